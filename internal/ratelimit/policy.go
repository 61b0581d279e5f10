// Package ratelimit maps API key tiers to quotas and counts requests
// against them.
package ratelimit

import (
	"time"

	"github.com/noncegate/noncegate/internal/model"
)

// DefaultWindow is the quota window shared by every limited tier.
const DefaultWindow = 900 * time.Second

// Quota is a request budget per fixed window.
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

var quotas = map[model.Tier]Quota{
	model.Tier1: {MaxRequests: 125, Window: DefaultWindow},
	model.Tier2: {MaxRequests: 350, Window: DefaultWindow},
	model.Tier3: {MaxRequests: 2000, Window: DefaultWindow},
}

// QuotaFor returns the quota for tier. ok is false for the unlimited tier.
// A tier outside the closed set gets the TIER_1 quota, so a corrupt record
// can never escape limiting.
func QuotaFor(tier model.Tier) (Quota, bool) {
	if tier == model.TierUnlimited {
		return Quota{}, false
	}
	if q, ok := quotas[tier]; ok {
		return q, true
	}
	return quotas[model.Tier1], true
}

// WindowStart returns the start of the fixed window containing now.
func (q Quota) WindowStart(now time.Time) time.Time {
	return now.Truncate(q.Window)
}

// ResetAt returns when the window containing now ends.
func (q Quota) ResetAt(now time.Time) time.Time {
	return q.WindowStart(now).Add(q.Window)
}

// RetryAfter is the wait until the next window, rounded up to whole seconds
// and never below one second.
func (q Quota) RetryAfter(now time.Time) time.Duration {
	wait := q.ResetAt(now).Sub(now)
	rounded := wait.Truncate(time.Second)
	if rounded < wait {
		rounded += time.Second
	}
	return max(rounded, time.Second)
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Decide builds a Decision from the post-increment count of the window
// containing now.
func Decide(q Quota, count int64, now time.Time) Decision {
	d := Decision{
		Allowed:   count <= int64(q.MaxRequests),
		Limit:     q.MaxRequests,
		Remaining: max(0, q.MaxRequests-int(min(count, int64(q.MaxRequests)))),
		ResetAt:   q.ResetAt(now),
	}
	if !d.Allowed {
		d.RetryAfter = q.RetryAfter(now)
	}
	return d
}
