// Package main is the entrypoint for the noncegate API gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/noncegate/noncegate/internal/analytics"
	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/cache"
	"github.com/noncegate/noncegate/internal/challenge"
	"github.com/noncegate/noncegate/internal/config"
	"github.com/noncegate/noncegate/internal/handler"
	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/middleware"
	"github.com/noncegate/noncegate/internal/nonce"
	"github.com/noncegate/noncegate/internal/ratelimit"
	"github.com/noncegate/noncegate/internal/repository"
	"github.com/noncegate/noncegate/internal/server"
	"github.com/noncegate/noncegate/internal/service"
	"github.com/noncegate/noncegate/internal/signature"
	"github.com/noncegate/noncegate/internal/sqlitestore"
)

const (
	noncePurgeInterval  = 10 * time.Minute
	noncePurgeRetention = 24 * time.Hour
	// minAuthDuration pads rejected API key checks so a missing key and a
	// wrong one take the same time.
	minAuthDuration = 50 * time.Millisecond
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("database unavailable")
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("redis unavailable")
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	health := handler.NewHealthHandler(repo, cacheClient).WithTimeout(cfg.StoreTimeout)

	// Nonce store
	backend, closeBackend, err := openNonceBackend(ctx, cfg, repo, cacheClient, logger)
	if err != nil {
		return err
	}
	defer closeBackend()
	if checker, ok := backend.(handler.HealthChecker); ok {
		health.WithCheck("nonce_store", checker)
	}
	nonces := nonce.NewStore(backend, logger,
		nonce.WithTimeout(cfg.StoreTimeout),
		nonce.WithMetrics(recorder),
	)
	go nonces.RunPurge(ctx, noncePurgeInterval, noncePurgeRetention)

	// Sign-in
	authenticator := challenge.NewAuthenticator(nonces, signature.NewDefaultRegistry(cfg.PrincipalAuthEnabled), logger,
		challenge.WithServiceName(cfg.ServiceName),
		challenge.WithMetrics(recorder),
	)
	tokens := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)
	signIn := service.NewSignInService(authenticator, repo, tokens, logger)

	// Usage analytics
	usage, stopUsage := startUsagePipeline(ctx, cfg, repo, cacheClient, recorder, logger)

	// API keys
	var counter ratelimit.Counter
	if cfg.RateLimitAPIEnabled {
		counter = ratelimit.NewBreakerCounter(cache.NewQuotaCounter(cacheClient), ratelimit.DefaultBreakerSettings(), logger)
	}
	authorizer := service.NewAPIKeyAuthorizer(repo, counter, logger,
		service.WithPrincipalCache(cacheClient),
		service.WithUsageRecorder(usage),
		service.WithAuthorizerMetrics(recorder),
		service.WithStoreTimeout(cfg.StoreTimeout),
	)
	keys := service.NewAPIKeyService(repo, auth.NewKeyGenerator(cfg.APIKeyEnv, auth.DefaultParams), cacheClient, logger)

	upstream, err := cfg.Upstream()
	if err != nil {
		return err
	}
	if upstream == nil {
		logger.Warn("UPSTREAM_URL not set, scoring routes will answer 503")
	}

	var ipLimiter *ratelimit.IPLimiter
	if cfg.RateLimitIPRPS > 0 {
		ipLimiter = ratelimit.NewIPLimiter(cfg.RateLimitIPRPS, cfg.RateLimitIPBurst)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Logger:  logger,
		Health:  health,
		Metrics: handler.NewMetricsHandler(registry, logger),
		Nonce: handler.NewNonceHandler(nonces, handler.NonceConfig{
			DefaultTTL:  cfg.NonceTTL,
			MaxTTL:      cfg.NonceMaxTTL,
			ServiceName: cfg.ServiceName,
		}, logger),
		Account:         handler.NewAccountHandler(signIn, logger),
		APIKeys:         handler.NewAPIKeyHandler(keys, logger),
		Proxy:           handler.NewProxyHandler(upstream, logger),
		Authorizer:      authorizer,
		Sessions:        tokens,
		IPLimiter:       ipLimiter,
		MinAuthDuration: minAuthDuration,
		MaxBodySize:     cfg.MaxRequestBodySize,
		Security: middleware.SecurityConfig{
			IsDevelopment: cfg.IsDevelopment(),
		},
		CORS: corsConfig(cfg),
	})

	srv := server.New(router, server.Config{
		Addr:            ":" + strconv.Itoa(cfg.AppPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("usage", stopUsage)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"nonce_backend", cfg.NonceBackend,
		"upstream", redactURL(cfg.UpstreamURL),
	)

	return srv.Run(ctx)
}

// openNonceBackend selects the nonce backend named by NONCE_BACKEND.
func openNonceBackend(ctx context.Context, cfg *config.Config, repo *repository.Repository, c *cache.Cache, logger *slog.Logger) (nonce.Backend, func(), error) {
	noop := func() {}
	switch cfg.NonceBackend {
	case config.NonceBackendPostgres:
		return repository.NewNonceBackend(repo), noop, nil
	case config.NonceBackendRedis:
		return cache.NewNonceBackend(c), noop, nil
	case config.NonceBackendSQLite:
		store, err := sqlitestore.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite nonce store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case config.NonceBackendMemory:
		logger.Warn("using in-memory nonce store; nonces do not survive restarts or span instances")
		return nonce.NewMemoryBackend(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown nonce backend %q", cfg.NonceBackend)
	}
}

// startUsagePipeline returns the recorder the authorizer writes usage to and
// the function that drains it. With the worker enabled, records go through
// the Redis stream; otherwise they are buffered in process.
func startUsagePipeline(
	ctx context.Context,
	cfg *config.Config,
	repo *repository.Repository,
	c *cache.Cache,
	recorder metrics.Recorder,
	logger *slog.Logger,
) (service.UsageRecorder, server.ShutdownFunc) {
	usageRepo := repository.NewUsageRepository(repo)

	if !cfg.UsageWorkerEnabled {
		local := analytics.NewChannelRecorder(usageRepo, logger, recorder, analytics.DefaultBufferSize)
		go func() {
			if err := local.Run(context.WithoutCancel(ctx)); err != nil {
				logger.Error("usage recorder stopped", "error", err)
			}
		}()
		return local, local.Shutdown
	}

	worker := analytics.NewWorker(c.Client(), usageRepo, logger, analytics.DefaultWorkerConfig(analytics.NewConsumerID()), recorder)
	go func() {
		if err := worker.Run(context.WithoutCancel(ctx)); err != nil {
			logger.Error("usage worker stopped", "error", err)
		}
	}()
	return analytics.NewPublisher(c.Client(), logger, recorder), worker.Shutdown
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		cors.AllowedOrigins = origins
	}
	return cors
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
