package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultClientTTL is how long an idle client's limiter is kept.
const DefaultClientTTL = 10 * time.Minute

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPLimiter is a per-client token bucket for unauthenticated endpoints.
type IPLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientEntry
	rps       rate.Limit
	burst     int
	clientTTL time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewIPLimiter creates a limiter allowing rps per client with burst.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{
		clients:   make(map[string]*clientEntry),
		rps:       rate.Limit(rps),
		burst:     burst,
		clientTTL: DefaultClientTTL,
		now:       time.Now,
	}
}

// Allow reports whether the client may proceed now.
func (l *IPLimiter) Allow(client string) bool {
	now := l.now()

	l.mu.Lock()
	entry, ok := l.clients[client]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.sweep(now)
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// RetryAfter is the time for one token to refill, at least one second.
func (l *IPLimiter) RetryAfter() time.Duration {
	if l.rps <= 0 {
		return time.Second
	}
	d := time.Duration(float64(time.Second) / float64(l.rps))
	return max(d.Round(time.Second), time.Second)
}

// Len returns the number of tracked clients.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// sweep drops idle clients at most once per TTL. Caller holds mu.
func (l *IPLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.clientTTL {
		return
	}
	l.lastSweep = now
	for client, entry := range l.clients {
		if now.Sub(entry.lastAccess) > l.clientTTL {
			delete(l.clients, client)
		}
	}
}
