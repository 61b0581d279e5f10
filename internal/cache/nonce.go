package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

const (
	noncePrefix = "nonce:"
	// NonceRetention keeps an expired nonce around long enough to be
	// reported as expired rather than not found.
	NonceRetention = 24 * time.Hour
)

// insertNonceScript stores a nonce hash only if the token is new.
// ARGV: created_at_ms, expires_at_ms ("" for none), pexpireat_ms ("" for none)
var insertNonceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'created_at', ARGV[1], 'expires_at', ARGV[2], 'used', '0')
if ARGV[3] ~= '' then
	redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
return 1
`)

// consumeNonceScript performs the whole check-and-mark in one script.
// Returns 1 consumed, 0 not found, 2 already used, 3 expired.
var consumeNonceScript = redis.NewScript(`
local state = redis.call('HMGET', KEYS[1], 'used', 'expires_at')
if not state[1] then
	return 0
end
if state[1] == '1' then
	return 2
end
local now = tonumber(ARGV[1])
if state[2] and state[2] ~= '' and now >= tonumber(state[2]) then
	return 3
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1])
return 1
`)

// NonceBackend stores nonces as Redis hashes.
type NonceBackend struct {
	cache *Cache
}

// NewNonceBackend returns a nonce.Backend backed by c.
func NewNonceBackend(c *Cache) *NonceBackend {
	return &NonceBackend{cache: c}
}

var _ nonce.Backend = (*NonceBackend)(nil)

// Insert stores n, failing with nonce.ErrDuplicateToken if it exists.
func (b *NonceBackend) Insert(ctx context.Context, n *model.Nonce) error {
	var expiresAt, pexpireAt string
	if n.ExpiresAt != nil {
		expiresAt = strconv.FormatInt(n.ExpiresAt.UnixMilli(), 10)
		pexpireAt = strconv.FormatInt(n.ExpiresAt.Add(NonceRetention).UnixMilli(), 10)
	}

	inserted, err := insertNonceScript.Run(ctx, b.cache.client,
		[]string{noncePrefix + n.Token},
		n.CreatedAt.UnixMilli(), expiresAt, pexpireAt,
	).Int()
	if err != nil {
		return fmt.Errorf("insert nonce: %w", err)
	}
	if inserted == 0 {
		return nonce.ErrDuplicateToken
	}
	return nil
}

// Get loads a nonce.
func (b *NonceBackend) Get(ctx context.Context, token string) (*model.Nonce, error) {
	fields, err := b.cache.client.HGetAll(ctx, noncePrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	if len(fields) == 0 {
		return nil, nonce.ErrNotFound
	}
	return decodeNonce(token, fields)
}

// Consume marks the nonce used if it is valid at now.
func (b *NonceBackend) Consume(ctx context.Context, token string, now time.Time) error {
	result, err := consumeNonceScript.Run(ctx, b.cache.client,
		[]string{noncePrefix + token},
		now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return nonce.ErrNotFound
	case 2:
		return nonce.ErrAlreadyUsed
	case 3:
		return nonce.ErrExpired
	default:
		return fmt.Errorf("consume nonce: unexpected script result %d", result)
	}
}

func decodeNonce(token string, fields map[string]string) (*model.Nonce, error) {
	n := &model.Nonce{Token: token, Used: fields["used"] == "1"}

	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode nonce created_at: %w", err)
	}
	if createdAt == nil {
		return nil, fmt.Errorf("decode nonce created_at: %w", errMissingField)
	}
	n.CreatedAt = *createdAt

	if n.ExpiresAt, err = parseMillis(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode nonce expires_at: %w", err)
	}
	if n.UsedAt, err = parseMillis(fields["used_at"]); err != nil {
		return nil, fmt.Errorf("decode nonce used_at: %w", err)
	}
	return n, nil
}

var errMissingField = errors.New("missing field")

// parseMillis returns nil for an empty field.
func parseMillis(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
