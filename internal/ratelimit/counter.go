package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Counter counts a request for key against q in the window containing now.
type Counter interface {
	Take(ctx context.Context, key string, q Quota, now time.Time) (Decision, error)
}

type window struct {
	start time.Time
	count int64
}

// MemoryCounter is a process-local fixed-window counter.
type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*window)}
}

// Take increments the window for key.
func (m *MemoryCounter) Take(_ context.Context, key string, q Quota, now time.Time) (Decision, error) {
	start := q.WindowStart(now)

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		m.windows[key] = w
	}
	w.count++
	count := w.count
	m.sweep(now, q.Window)
	m.mu.Unlock()

	return Decide(q, count, now), nil
}

// sweep drops windows that ended before now. Caller holds mu.
func (m *MemoryCounter) sweep(now time.Time, every time.Duration) {
	if now.Sub(m.lastSweep) < every {
		return
	}
	m.lastSweep = now
	for key, w := range m.windows {
		if !now.Before(w.start.Add(every)) {
			delete(m.windows, key)
		}
	}
}

// BreakerCounter guards a remote Counter with a circuit breaker and fails
// open: when the counter errors or the breaker is open the request is
// allowed with a full budget.
type BreakerCounter struct {
	next    Counter
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	timeout time.Duration
}

// BreakerSettings configures BreakerCounter.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// CallTimeout bounds each call to the wrapped counter.
	CallTimeout time.Duration
}

// DefaultBreakerSettings returns settings suited to a Redis counter.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "ratelimit",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		CallTimeout:         200 * time.Millisecond,
	}
}

// NewBreakerCounter wraps next.
func NewBreakerCounter(next Counter, settings BreakerSettings, logger *slog.Logger) *BreakerCounter {
	logger = logger.With("component", "ratelimit.breaker")
	threshold := max(settings.ConsecutiveFailures, 1)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerCounter{next: next, cb: cb, logger: logger, timeout: settings.CallTimeout}
}

// Take counts through the breaker.
func (b *BreakerCounter) Take(ctx context.Context, key string, q Quota, now time.Time) (Decision, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return b.next.Take(callCtx, key, q, now)
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.logger.Error("rate limit counter failed, allowing request", "error", err)
		}
		return Decision{
			Allowed:   true,
			Limit:     q.MaxRequests,
			Remaining: q.MaxRequests,
			ResetAt:   q.ResetAt(now),
		}, nil
	}
	return result.(Decision), nil
}

// State reports the breaker state.
func (b *BreakerCounter) State() gobreaker.State {
	return b.cb.State()
}
