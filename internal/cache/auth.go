package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noncegate/noncegate/internal/model"
)

const (
	principalCachePrefix = "auth:principal:"
	// principalIndexPrefix maps a key ID to the cache keys holding it, so a
	// revoke or update can evict without knowing the plaintext key.
	principalIndexPrefix = "auth:keyidx:"
	// PrincipalCacheTTL bounds how long a changed key can be served stale.
	PrincipalCacheTTL = 5 * time.Minute
)

type cachedPrincipal struct {
	KeyID        string             `json:"key_id"`
	KeyPrefix    string             `json:"key_prefix"`
	AccountID    string             `json:"account_id"`
	Capabilities model.Capabilities `json:"capabilities"`
	Tier         model.Tier         `json:"tier"`
	Revoked      bool               `json:"revoked"`
}

// GetPrincipal returns a cached principal, or nil on a miss.
// Corrupt entries are treated as misses.
func (c *Cache) GetPrincipal(ctx context.Context, cacheKey string) (*model.Principal, error) {
	data, err := c.client.Get(ctx, principalCachePrefix+cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached principal: %w", err)
	}

	var cached cachedPrincipal
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}

	return &model.Principal{
		KeyID:        cached.KeyID,
		KeyPrefix:    cached.KeyPrefix,
		AccountID:    cached.AccountID,
		Capabilities: cached.Capabilities,
		Tier:         cached.Tier,
		Revoked:      cached.Revoked,
	}, nil
}

// SetPrincipal caches p under cacheKey and indexes it by key ID.
func (c *Cache) SetPrincipal(ctx context.Context, cacheKey string, p *model.Principal) error {
	data, err := json.Marshal(cachedPrincipal{
		KeyID:        p.KeyID,
		KeyPrefix:    p.KeyPrefix,
		AccountID:    p.AccountID,
		Capabilities: p.Capabilities,
		Tier:         p.Tier,
		Revoked:      p.Revoked,
	})
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}

	indexKey := principalIndexPrefix + p.KeyID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, principalCachePrefix+cacheKey, data, PrincipalCacheTTL)
	pipe.SAdd(ctx, indexKey, cacheKey)
	pipe.Expire(ctx, indexKey, PrincipalCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// EvictPrincipal drops every cached principal for keyID.
func (c *Cache) EvictPrincipal(ctx context.Context, keyID string) error {
	indexKey := principalIndexPrefix + keyID

	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("read principal index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, principalCachePrefix+m)
	}
	keys = append(keys, indexKey)
	return c.client.Del(ctx, keys...).Err()
}
