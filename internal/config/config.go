// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Nonce backends selectable with NONCE_BACKEND.
const (
	NonceBackendPostgres = "postgres"
	NonceBackendRedis    = "redis"
	NonceBackendSQLite   = "sqlite"
	NonceBackendMemory   = "memory"
)

// MinJWTSecretLength is enforced outside development.
const MinJWTSecretLength = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Nonce store
	NonceBackend string        `env:"NONCE_BACKEND" envDefault:"postgres"`
	NonceTTL     time.Duration `env:"NONCE_TTL" envDefault:"5m"`
	NonceMaxTTL  time.Duration `env:"NONCE_MAX_TTL" envDefault:"24h"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"noncegate.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`

	// Sessions issued after sign-in
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty,unset"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"noncegate"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Sign-in
	ServiceName          string `env:"SERVICE_NAME" envDefault:"noncegate"`
	PrincipalAuthEnabled bool   `env:"PRINCIPAL_AUTH_ENABLED" envDefault:"true"`

	// Scoring API the gateway forwards to. Empty disables proxying.
	UpstreamURL string `env:"UPSTREAM_URL"`

	// API keys
	APIKeyEnv string `env:"API_KEY_ENV" envDefault:"live"`

	// Rate limiting
	RateLimitAPIEnabled bool    `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitIPRPS      float64 `env:"RATE_LIMIT_IP_RPS" envDefault:"10"`
	RateLimitIPBurst    int     `env:"RATE_LIMIT_IP_BURST" envDefault:"20"`

	// Usage analytics
	UsageWorkerEnabled bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Upstream parses UpstreamURL. It returns nil when proxying is disabled.
func (c *Config) Upstream() (*url.URL, error) {
	if c.UpstreamURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("UPSTREAM_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.New("UPSTREAM_URL must be an absolute http(s) URL")
	}
	return u, nil
}

// Validate checks enum values and duration bounds.
func (c *Config) Validate() error {
	var errs []error

	switch c.NonceBackend {
	case NonceBackendPostgres, NonceBackendRedis, NonceBackendSQLite, NonceBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("NONCE_BACKEND %q is not one of postgres, redis, sqlite, memory", c.NonceBackend))
	}
	if c.NonceBackend == NonceBackendSQLite && c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite nonce backend"))
	}

	if c.NonceTTL < 0 {
		errs = append(errs, errors.New("NONCE_TTL must not be negative"))
	}
	if c.NonceMaxTTL <= 0 {
		errs = append(errs, errors.New("NONCE_MAX_TTL must be positive"))
	} else if c.NonceTTL > c.NonceMaxTTL {
		errs = append(errs, errors.New("NONCE_TTL must not exceed NONCE_MAX_TTL"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}

	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
	}

	if c.APIKeyEnv != "live" && c.APIKeyEnv != "test" {
		errs = append(errs, fmt.Errorf("API_KEY_ENV %q is not one of live, test", c.APIKeyEnv))
	}
	if c.RateLimitIPRPS < 0 || c.RateLimitIPBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_IP_RPS and RATE_LIMIT_IP_BURST must not be negative"))
	}
	if _, err := c.Upstream(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
