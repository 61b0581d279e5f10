// Package nonce owns the lifecycle of sign-in nonces: issuance, advisory
// lookup and the single authoritative consume.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
)

const (
	// TokenBytes is the entropy of a token (240 bits).
	TokenBytes = 30
	// TokenLength is the hex-encoded token length.
	TokenLength = TokenBytes * 2

	// DefaultStoreTimeout bounds every backend call.
	DefaultStoreTimeout = 2 * time.Second

	maxIssueAttempts = 3
)

// Nonce errors. NotFound, AlreadyUsed and Expired are definitive outcomes;
// ErrStoreUnavailable is transient and never implies the nonce was burned.
var (
	ErrNotFound         = errors.New("nonce not found")
	ErrAlreadyUsed      = errors.New("nonce already used")
	ErrExpired          = errors.New("nonce expired")
	ErrDuplicateToken   = errors.New("nonce token already exists")
	ErrInvalidTTL       = errors.New("nonce ttl must not be negative")
	ErrStoreUnavailable = errors.New("nonce store unavailable")
)

// Backend persists nonces. Implementations must make Consume a single
// atomic transition: the nonce is marked used only if, at that instant, it
// exists, is unused and is not expired at now. When the transition does not
// happen, Consume reports why with ErrNotFound, ErrAlreadyUsed or ErrExpired.
type Backend interface {
	// Insert stores a new nonce, returning ErrDuplicateToken on collision.
	Insert(ctx context.Context, n *model.Nonce) error
	// Get returns the nonce or ErrNotFound.
	Get(ctx context.Context, token string) (*model.Nonce, error)
	// Consume marks the nonce used if it is valid at now.
	Consume(ctx context.Context, token string, now time.Time) error
}

// Purger is implemented by backends that can drop nonces whose validity
// ended before the cutoff, by use or by expiry.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Store issues and consumes nonces on top of a Backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
	metrics metrics.Recorder
	timeout time.Duration
	now     func() time.Time
	random  io.Reader
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides DefaultStoreTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the token entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		if r != nil {
			s.random = r
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *Store) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// NewStore creates a Store backed by backend.
func NewStore(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  logger.With("component", "nonce.store"),
		metrics: metrics.NewNoop(),
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates and persists a new nonce. A zero ttl means the nonce never
// expires by time.
func (s *Store) Issue(ctx context.Context, ttl time.Duration) (*model.Nonce, error) {
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		token, err := GenerateToken(s.random)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		n := &model.Nonce{Token: token, CreatedAt: now}
		if ttl > 0 {
			expiresAt := now.Add(ttl)
			n.ExpiresAt = &expiresAt
		}

		err = s.withTimeout(ctx, func(ctx context.Context) error {
			return s.backend.Insert(ctx, n)
		})
		if errors.Is(err, ErrDuplicateToken) {
			s.logger.Warn("nonce token collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, s.classify(err)
		}

		s.metrics.IncNonceIssued()
		return n, nil
	}

	return nil, fmt.Errorf("issue nonce: %w after %d attempts", ErrDuplicateToken, maxIssueAttempts)
}

// PeekValid returns the nonce if it is currently valid. The answer is
// advisory: only Consume decides whether a nonce is spent.
func (s *Store) PeekValid(ctx context.Context, token string) (*model.Nonce, error) {
	if !ValidToken(token) {
		return nil, ErrNotFound
	}

	var n *model.Nonce
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.backend.Get(ctx, token)
		return err
	})
	if err != nil {
		return nil, s.classify(err)
	}

	switch {
	case n.Used:
		return nil, ErrAlreadyUsed
	case n.Expired(s.now()):
		return nil, ErrExpired
	}
	return n, nil
}

// Consume atomically spends the nonce. Exactly one of any number of
// concurrent callers for the same token gets a nil error.
//
// The backend call is detached from caller cancellation so that a consume
// racing a client disconnect still lands exactly once.
func (s *Store) Consume(ctx context.Context, token string) error {
	if !ValidToken(token) {
		s.metrics.IncNonceConsume(outcome(ErrNotFound))
		return ErrNotFound
	}

	err := s.withTimeout(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return s.backend.Consume(ctx, token, s.now())
	})
	err = s.classify(err)
	s.metrics.IncNonceConsume(outcome(err))

	if err != nil && errors.Is(err, ErrStoreUnavailable) {
		s.logger.Error("nonce consume failed", "error", err)
	}
	return err
}

// Purge removes nonces that can no longer be consumed, when the backend
// supports it.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	purger, ok := s.backend.(Purger)
	if !ok {
		return 0, nil
	}

	var removed int64
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		removed, err = purger.Purge(ctx, before)
		return err
	})
	if err != nil {
		return 0, s.classify(err)
	}
	return removed, nil
}

// RunPurge sweeps every interval until ctx is done, dropping nonces whose
// validity ended more than retention ago.
func (s *Store) RunPurge(ctx context.Context, interval, retention time.Duration) {
	if _, ok := s.backend.(Purger); !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Purge(ctx, s.now().Add(-retention))
			if err != nil {
				s.logger.Warn("nonce purge failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("purged nonces", "count", removed)
			}
		}
	}
}

func (s *Store) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// classify keeps definitive outcomes and folds everything else into the
// transient ErrStoreUnavailable class.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrExpired) || errors.Is(err, ErrDuplicateToken) {
		return err
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// GenerateToken reads TokenBytes from r and hex-encodes them.
func GenerateToken(r io.Reader) (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate nonce token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidToken reports whether token has the issued shape: 60 lowercase hex chars.
func ValidToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		ch := token[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') {
			continue
		}
		return false
	}
	return true
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
