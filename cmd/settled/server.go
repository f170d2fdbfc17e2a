package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	gatewayconfig "offlinesettle/gateway/config"
	"offlinesettle/gateway/middleware"
	"offlinesettle/gateway/routes"
	"offlinesettle/gateway/stream"
	"offlinesettle/native/settlement"
	"offlinesettle/observability"
)

var defaultRateLimits = map[string]middleware.RateLimit{
	"transfers": {RequestsPerMinute: 600, Burst: 60},
	"accounts":  {RequestsPerMinute: 300, Burst: 30},
	"roles":     {RequestsPerMinute: 60, Burst: 10},
}

type server struct {
	http     *http.Server
	tls      *tls.Config
	logger   *slog.Logger
	listenFn func(network, address string) (net.Listener, error)
}

func newServer(cfg gatewayconfig.Config, baseDir string, exec *settlement.Executor, roles *settlement.Roles, hub *stream.Hub, logger *slog.Logger, allowInsecure bool) (*server, error) {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger, prometheus.DefaultGatherer)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     cfg.Auth.Secret(),
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, logger)
	if cfg.Auth.Enabled && cfg.Auth.Secret() == "" {
		return nil, errors.New("auth is enabled but no hmac secret is configured")
	}

	limits := make(map[string]middleware.RateLimit, len(defaultRateLimits))
	for id, limit := range defaultRateLimits {
		limits[id] = limit
	}
	for _, entry := range cfg.RateLimits {
		limits[strings.TrimSpace(entry.ID)] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
		}
	}
	limiter := middleware.NewRateLimiter(limits, logger)
	limiter.SetObserver(observability.Settlement())

	var streamHandler http.Handler
	if cfg.Stream.Enabled {
		streamHandler = hub
	}
	router, err := routes.New(routes.Config{
		Settlement:    routes.NewSettlementAPI(exec, roles, logger),
		Stream:        streamHandler,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "settled")
	}

	tlsConfig, err := buildTLSConfig(baseDir, cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil && !allowInsecure && !isLoopbackAddress(cfg.ListenAddress) {
		return nil, errors.New("plaintext listeners are restricted to loopback addresses; configure security.tlsCertFile/tlsKeyFile or pass --allow-insecure")
	}

	return &server{
		http: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			TLSConfig:    tlsConfig,
		},
		tls:      tlsConfig,
		logger:   logger,
		listenFn: net.Listen,
	}, nil
}

// run serves until ctx is cancelled, then drains in-flight requests for at
// most shutdownTimeout.
func (s *server) run(ctx context.Context, shutdownTimeout time.Duration) error {
	listener, err := s.listenFn("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	scheme := "http"
	if s.tls != nil {
		listener = tls.NewListener(listener, s.tls)
		scheme = "https"
	}
	s.logger.Info("gateway listening", "address", scheme+"://"+listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

func buildTLSConfig(baseDir string, sec gatewayconfig.SecurityConfig) (*tls.Config, error) {
	certPath := resolvePath(baseDir, sec.TLSCertFile)
	keyPath := resolvePath(baseDir, sec.TLSKeyFile)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, errors.New("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
