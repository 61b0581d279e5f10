package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noncegate/noncegate/internal/ratelimit"
)

const rateLimitAPIPrefix = "ratelimit:apikey:"

// fixedWindowScript increments the counter for one window and sets its
// expiry on first use. Returns the post-increment count.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// QuotaCounter is a Redis fixed-window counter shared by every instance.
type QuotaCounter struct {
	cache *Cache
}

// NewQuotaCounter returns a counter backed by c.
func NewQuotaCounter(c *Cache) *QuotaCounter {
	return &QuotaCounter{cache: c}
}

var _ ratelimit.Counter = (*QuotaCounter)(nil)

// Take counts one request for key in the window containing now.
func (q *QuotaCounter) Take(ctx context.Context, key string, quota ratelimit.Quota, now time.Time) (ratelimit.Decision, error) {
	windowKey := quotaWindowKey(key, quota.WindowStart(now))
	// Keep the key one extra window so clock skew between instances
	// cannot reset a window early.
	ttl := 2 * quota.Window

	count, err := fixedWindowScript.Run(ctx, q.cache.client,
		[]string{windowKey},
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("quota counter: %w", err)
	}
	return ratelimit.Decide(quota, count, now), nil
}

func quotaWindowKey(key string, windowStart time.Time) string {
	return rateLimitAPIPrefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}
