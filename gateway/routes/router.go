package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"offlinesettle/gateway/middleware"
)

type Config struct {
	Settlement    *SettlementAPI
	Stream        http.Handler
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Settlement == nil {
		return nil, errors.New("settlement api required")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("unmatched"))
	}

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)

	group := func(prefix, name string, mount func(chi.Router)) {
		r.Route(prefix, func(sr chi.Router) {
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware())
			}
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(name))
			}
			mount(sr)
		})
	}
	api := cfg.Settlement
	group("/v1/transfers", "transfers", api.mountTransfers)
	group("/v1/accounts", "accounts", api.mountAccounts)
	group("/v1/roles", "roles", api.mountRoles)
	r.Get("/v1/domain", api.domain)

	if cfg.Stream != nil {
		r.Route("/v1/events", func(sr chi.Router) {
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware())
			}
			sr.Handle("/", cfg.Stream)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r, nil
}
