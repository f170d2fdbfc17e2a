package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"offlinesettle/crypto"
)

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken    contextKey = "gateway.token"
	ContextKeyScopes   contextKey = "gateway.scopes"
	ContextKeyIdentity contextKey = "gateway.identity"
)

// IdentityFromContext returns the caller identity taken from the token
// subject, if the request was authenticated.
func IdentityFromContext(ctx context.Context) ([20]byte, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).([20]byte)
	return id, ok
}

// WithIdentity attaches a caller identity to ctx.
func WithIdentity(ctx context.Context, id [20]byte) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// ScopesFromContext returns the scopes granted to the authenticated caller.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Authenticator validates HMAC-signed bearer tokens. The token subject names
// the caller identity every settlement operation is attributed to.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacMethods),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

type authError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="settled"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authError{Code: code, Message: message})
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			raw := extractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				if a.cfg.AllowAnonymous && a.isOptional(r.URL.Path) {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "Unauthenticated", "missing bearer token")
				return
			}
			identity, scopes, err := a.authenticate(raw)
			if err != nil {
				a.logger.Warn("auth: token rejected", "route", r.URL.Path, "error", err)
				writeAuthError(w, http.StatusUnauthorized, "Unauthenticated", "invalid token")
				return
			}
			if !hasScopes(scopes, requiredScopes) {
				writeAuthError(w, http.StatusForbidden, "InsufficientScope", "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, raw)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			ctx = WithIdentity(ctx, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// authenticate verifies raw and returns the subject identity and scopes.
func (a *Authenticator) authenticate(raw string) ([20]byte, []string, error) {
	if len(a.secret) == 0 {
		return [20]byte{}, nil, errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return [20]byte{}, nil, err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return [20]byte{}, nil, err
	}
	identity, err := crypto.ParseIdentity(subject)
	if err != nil {
		return [20]byte{}, nil, fmt.Errorf("subject: %w", err)
	}
	return identity, scopesFromClaim(claims[a.cfg.ScopeClaim]), nil
}

// scopesFromClaim accepts either a space separated string or a string array.
func scopesFromClaim(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(granted, required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range granted {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenClaims describes a bearer token for IssueToken.
type TokenClaims struct {
	Subject  string
	Issuer   string
	Audience string
	Scopes   []string
	TTL      time.Duration
}

// IssueToken signs an HS256 token the Authenticator accepts.
func IssueToken(secret string, claims TokenClaims, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret not configured")
	}
	mapClaims := jwt.MapClaims{
		"sub": claims.Subject,
		"iat": now.Unix(),
	}
	if claims.TTL > 0 {
		mapClaims["exp"] = now.Add(claims.TTL).Unix()
	}
	if claims.Issuer != "" {
		mapClaims["iss"] = claims.Issuer
	}
	if claims.Audience != "" {
		mapClaims["aud"] = claims.Audience
	}
	if len(claims.Scopes) > 0 {
		mapClaims["scope"] = strings.Join(claims.Scopes, " ")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString([]byte(strings.TrimSpace(secret)))
}
