package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/ratelimit"
	"github.com/noncegate/noncegate/internal/service"
)

// Authorizer decides API key requests.
type Authorizer interface {
	Evaluate(ctx context.Context, presentedKey string, capability model.Capability, path string) (*service.Result, error)
}

// APIKeyConfig holds configuration for the API key middleware.
type APIKeyConfig struct {
	Logger     *slog.Logger
	Authorizer Authorizer
	// MinDuration pads rejected requests so a missing key, an unknown key
	// and a wrong secret take the same time. Zero disables padding.
	MinDuration time.Duration
}

// APIKey returns middleware that admits requests whose API key carries
// capability and is within its tier quota. The principal is stored in the
// request context.
func APIKey(cfg APIKeyConfig, capability model.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			key := extractAPIKey(r)
			if key == "" {
				cfg.pad(start)
				cfg.Logger.Warn("authorization failed",
					slog.String("reason", "missing_key"),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAPIKeyError(w)
				return
			}

			result, err := cfg.Authorizer.Evaluate(r.Context(), key, capability, r.URL.Path)
			if err != nil {
				cfg.reject(w, r, start, capability, err)
				return
			}

			if result.Limit != nil {
				setRateLimitHeaders(w, *result.Limit)
			}

			annotateKey(r.Context(), result.Principal.KeyID, result.Principal.AccountID)
			ctx := auth.ContextWithPrincipal(r.Context(), result.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (cfg APIKeyConfig) reject(w http.ResponseWriter, r *http.Request, start time.Time, capability model.Capability, err error) {
	attrs := []any{
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	}

	var limited *service.RateLimitedError
	switch {
	case errors.As(err, &limited):
		cfg.Logger.Warn("rate limit exceeded", append(attrs,
			slog.Int64("retry_after_seconds", int64(limited.RetryAfter.Seconds())))...)
		setRateLimitHeaders(w, limited.Decision)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")

	case errors.Is(err, service.ErrCapabilityDenied):
		cfg.Logger.Warn("authorization failed", append(attrs,
			slog.String("reason", "capability"), slog.String("capability", string(capability)))...)
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "API key lacks the "+string(capability)+" capability")

	case errors.Is(err, service.ErrKeyNotFound), errors.Is(err, service.ErrKeyRevoked):
		cfg.pad(start)
		reason := "invalid_key"
		if errors.Is(err, service.ErrKeyRevoked) {
			reason = "revoked"
		}
		cfg.Logger.Warn("authorization failed", append(attrs, slog.String("reason", reason))...)
		writeAPIKeyError(w)

	default:
		cfg.Logger.Error("authorizer unavailable", append(attrs, slog.String("error", err.Error()))...)
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
	}
}

func (cfg APIKeyConfig) pad(start time.Time) {
	if elapsed := time.Since(start); elapsed < cfg.MinDuration {
		time.Sleep(cfg.MinDuration - elapsed)
	}
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if key, ok := bearerToken(r); ok {
		return key
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// writeAPIKeyError uses one message for every key failure to prevent enumeration.
func writeAPIKeyError(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
