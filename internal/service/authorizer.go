// Package service holds the application's business logic: API key
// authorization, API key management and sign-in.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
	"github.com/noncegate/noncegate/internal/ratelimit"
)

// Authorization errors. A key that does not parse, does not exist or does
// not verify is ErrKeyNotFound; the caller cannot tell these apart.
var (
	ErrKeyNotFound           = errors.New("api key not found")
	ErrKeyRevoked            = errors.New("api key revoked")
	ErrCapabilityDenied      = errors.New("api key lacks capability")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrAuthorizerUnavailable = errors.New("authorizer unavailable")
)

// RateLimitedError carries the quota decision of a throttled request.
// It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	Quota      ratelimit.Quota
	Decision   ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s",
		e.Quota.MaxRequests, e.Quota.Window, e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// KeyLookup finds candidate keys by their public prefix.
type KeyLookup interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
}

// PrincipalCache caches resolved principals by a hash of the presented key.
// GetPrincipal returns nil, nil on a miss.
type PrincipalCache interface {
	GetPrincipal(ctx context.Context, cacheKey string) (*model.Principal, error)
	SetPrincipal(ctx context.Context, cacheKey string, p *model.Principal) error
}

// UsageRecorder accepts usage records. Record must not block.
type UsageRecorder interface {
	Record(rec model.UsageRecord)
}

// Result is the outcome of an admitted request.
type Result struct {
	Principal *model.Principal
	// Limit is nil for keys without a quota.
	Limit *ratelimit.Decision
}

// APIKeyAuthorizer decides whether a presented API key may perform a
// capability, and counts the request against the key's tier quota.
type APIKeyAuthorizer struct {
	keys    KeyLookup
	cache   PrincipalCache
	counter ratelimit.Counter
	usage   UsageRecorder
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
	timeout time.Duration
}

// AuthorizerOption configures an APIKeyAuthorizer.
type AuthorizerOption func(*APIKeyAuthorizer)

// WithPrincipalCache enables the principal cache.
func WithPrincipalCache(cache PrincipalCache) AuthorizerOption {
	return func(a *APIKeyAuthorizer) { a.cache = cache }
}

// WithUsageRecorder sets where usage records go.
func WithUsageRecorder(usage UsageRecorder) AuthorizerOption {
	return func(a *APIKeyAuthorizer) {
		if usage != nil {
			a.usage = usage
		}
	}
}

// WithAuthorizerMetrics attaches a metrics recorder.
func WithAuthorizerMetrics(recorder metrics.Recorder) AuthorizerOption {
	return func(a *APIKeyAuthorizer) {
		if recorder != nil {
			a.metrics = recorder
		}
	}
}

// WithAuthorizerClock overrides the wall clock.
func WithAuthorizerClock(now func() time.Time) AuthorizerOption {
	return func(a *APIKeyAuthorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStoreTimeout bounds each key lookup, cache and counter call.
func WithStoreTimeout(timeout time.Duration) AuthorizerOption {
	return func(a *APIKeyAuthorizer) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// NewAPIKeyAuthorizer creates an authorizer. A nil counter disables quotas.
func NewAPIKeyAuthorizer(keys KeyLookup, counter ratelimit.Counter, logger *slog.Logger, opts ...AuthorizerOption) *APIKeyAuthorizer {
	a := &APIKeyAuthorizer{
		keys:    keys,
		counter: counter,
		usage:   discardUsage{},
		logger:  logger.With("component", "service.authorizer"),
		metrics: metrics.NewNoop(),
		now:     time.Now,
		timeout: nonce.DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize resolves presentedKey and checks it may use capability.
func (a *APIKeyAuthorizer) Authorize(ctx context.Context, presentedKey string, capability model.Capability, path string) (*model.Principal, error) {
	result, err := a.Evaluate(ctx, presentedKey, capability, path)
	if err != nil {
		return nil, err
	}
	return result.Principal, nil
}

// Evaluate is Authorize with the quota decision of an admitted request.
//
// Every call whose key resolves is recorded as usage, including revoked,
// denied and throttled ones.
func (a *APIKeyAuthorizer) Evaluate(ctx context.Context, presentedKey string, capability model.Capability, path string) (*Result, error) {
	start := time.Now()
	result, err := a.evaluate(ctx, presentedKey, capability, path)
	a.metrics.ObserveAuthorizationDuration(time.Since(start))
	a.metrics.IncAuthorization(authorizationOutcome(err))
	return result, err
}

func (a *APIKeyAuthorizer) evaluate(ctx context.Context, presentedKey string, capability model.Capability, path string) (*Result, error) {
	principal, err := a.resolve(ctx, presentedKey)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if path == "" {
		path = model.DefaultUsagePath
	}
	a.usage.Record(model.UsageRecord{APIKeyID: principal.KeyID, Path: path, Timestamp: now.UTC()})

	if principal.Revoked {
		return nil, ErrKeyRevoked
	}
	if !principal.Capabilities.Allows(capability) {
		return nil, ErrCapabilityDenied
	}

	quota, limited := ratelimit.QuotaFor(principal.Tier)
	if !limited || a.counter == nil {
		return &Result{Principal: principal}, nil
	}

	takeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	decision, err := a.counter.Take(takeCtx, principal.KeyID, quota, now)
	cancel()
	if err != nil {
		// Quota enforcement fails open.
		a.logger.Error("rate limit check failed", "key_id", principal.KeyID, "error", err)
		return &Result{Principal: principal}, nil
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter, Quota: quota, Decision: decision}
	}
	return &Result{Principal: principal, Limit: &decision}, nil
}

// resolve maps a presented key to its principal, via the cache when possible.
func (a *APIKeyAuthorizer) resolve(ctx context.Context, presentedKey string) (*model.Principal, error) {
	parsed, err := auth.ParseAPIKey(presentedKey)
	if err != nil {
		return nil, ErrKeyNotFound
	}

	cacheKey := auth.QuickHash(presentedKey)
	if a.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, a.timeout)
		cached, err := a.cache.GetPrincipal(cacheCtx, cacheKey)
		cancel()
		if err != nil {
			a.logger.Warn("principal cache read failed", "error", err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	candidates, err := a.keys.GetAPIKeysByPrefix(lookupCtx, parsed.Prefix)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorizerUnavailable, err)
	}

	// Verify against each candidate key (handles prefix collisions)
	var matched *model.APIKey
	for _, k := range candidates {
		ok, err := auth.VerifySecret(presentedKey, k.KeyHash)
		if err != nil {
			a.logger.Warn("stored key hash is malformed", "key_id", k.ID, "error", err)
			continue
		}
		if ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, ErrKeyNotFound
	}

	principal := matched.Principal()
	if a.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := a.cache.SetPrincipal(cacheCtx, cacheKey, principal)
		cancel()
		if err != nil {
			a.logger.Warn("principal cache write failed", "key_id", principal.KeyID, "error", err)
		}
	}
	return principal, nil
}

func authorizationOutcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrKeyRevoked):
		return "revoked"
	case errors.Is(err, ErrCapabilityDenied):
		return "denied"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "unavailable"
	}
}

type discardUsage struct{}

func (discardUsage) Record(model.UsageRecord) {}
