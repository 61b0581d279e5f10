package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/noncegate/noncegate/internal/middleware"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/ratelimit"
)

// RouterConfig wires the handlers and middleware into a router.
type RouterConfig struct {
	Logger *slog.Logger

	Health  *HealthHandler
	Metrics http.Handler
	Nonce   *NonceHandler
	Account *AccountHandler
	APIKeys *APIKeyHandler
	Proxy   http.Handler

	Authorizer      middleware.Authorizer
	Sessions        middleware.TokenParser
	IPLimiter       *ratelimit.IPLimiter
	MinAuthDuration time.Duration
	MaxBodySize     int64

	Security middleware.SecurityConfig
	CORS     middleware.CORSConfig
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.MaxBodySize > 0 {
		r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
	}

	// Health and metrics (no auth required)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/account", func(r chi.Router) {
		// Sign-in is unauthenticated and limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitIP(cfg.Logger, cfg.IPLimiter))
			r.Get("/nonce", cfg.Nonce.Issue)
			r.Post("/verify", cfg.Account.Verify)
		})

		r.Route("/api-keys", func(r chi.Router) {
			r.Use(middleware.Session(cfg.Logger, cfg.Sessions))
			r.Get("/", cfg.APIKeys.ListAPIKeys)
			r.Post("/", cfg.APIKeys.CreateAPIKey)
			r.Patch("/{key_id}", cfg.APIKeys.UpdateAPIKey)
			r.Delete("/{key_id}", cfg.APIKeys.RevokeAPIKey)
			r.Post("/{key_id}/rotate", cfg.APIKeys.RotateAPIKey)
		})
	})

	apiKeyCfg := middleware.APIKeyConfig{
		Logger:      cfg.Logger,
		Authorizer:  cfg.Authorizer,
		MinDuration: cfg.MinAuthDuration,
	}
	requires := func(capability model.Capability) func(http.Handler) http.Handler {
		return middleware.APIKey(apiKeyCfg, capability)
	}

	// Scoring API: every route names the capability it needs.
	r.Route("/api/v1", func(r chi.Router) {
		r.With(requires(model.CapabilityRead)).Get("/principal", Principal)
		r.With(requires(model.CapabilitySubmit)).Method(http.MethodPost, "/submit-passport", cfg.Proxy)
		r.With(requires(model.CapabilityRead)).Method(http.MethodGet, "/score/*", cfg.Proxy)
		r.With(requires(model.CapabilityCreateScorers)).Method(http.MethodPost, "/scorers", cfg.Proxy)
	})

	// 404 and 405 handlers
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
