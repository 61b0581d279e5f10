package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/ratelimit"
	"github.com/noncegate/noncegate/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memKeys is an in-memory KeyRepository and KeyLookup.
type memKeys struct {
	mu      sync.Mutex
	keys    map[string]*model.APIKey
	lookups int
	err     error
}

func newMemKeys() *memKeys {
	return &memKeys{keys: make(map[string]*model.APIKey)}
}

func (m *memKeys) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeys) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; ok {
		return repository.ErrAPIKeyExists
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memKeys) GetAPIKeyByID(_ context.Context, id string) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memKeys) ListAPIKeysByAccount(_ context.Context, accountID string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.AccountID == accountID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeys) UpdateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key.ID]
	if !ok || k.AccountID != key.AccountID || k.IsRevoked() {
		return repository.ErrAPIKeyNotFound
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memKeys) RevokeAPIKey(_ context.Context, accountID, id string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeLocked(accountID, id)
}

func (m *memKeys) revokeLocked(accountID, id string) (time.Time, error) {
	k, ok := m.keys[id]
	if !ok || k.AccountID != accountID || k.IsRevoked() {
		return time.Time{}, repository.ErrAPIKeyNotFound
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	return now, nil
}

func (m *memKeys) RotateAPIKey(_ context.Context, accountID, oldID string, next *model.APIKey) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, err := m.revokeLocked(accountID, oldID)
	if err != nil {
		return time.Time{}, err
	}
	cp := *next
	m.keys[next.ID] = &cp
	return at, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*model.Principal
	evicted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*model.Principal)}
}

func (c *memCache) GetPrincipal(_ context.Context, cacheKey string) (*model.Principal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cacheKey], nil
}

func (c *memCache) SetPrincipal(_ context.Context, cacheKey string, p *model.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey] = p
	return nil
}

func (c *memCache) EvictPrincipal(_ context.Context, keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, keyID)
	for k, p := range c.entries {
		if p.KeyID == keyID {
			delete(c.entries, k)
		}
	}
	return nil
}

type usageLog struct {
	mu      sync.Mutex
	records []model.UsageRecord
}

func (u *usageLog) Record(rec model.UsageRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
}

func (u *usageLog) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.records)
}

type failingCounter struct{}

func (failingCounter) Take(context.Context, string, ratelimit.Quota, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func newGenerator() *auth.KeyGenerator {
	return auth.NewKeyGenerator(auth.EnvTest, auth.TestParams)
}

// seedKey stores a fresh key and returns its plaintext.
func seedKey(t *testing.T, keys *memKeys, mutate func(k *model.APIKey)) (string, *model.APIKey) {
	t.Helper()

	generated, err := newGenerator().Generate()
	require.NoError(t, err)

	key := &model.APIKey{
		ID:           "key-" + generated.Prefix,
		AccountID:    "account-1",
		KeyHash:      generated.Hash,
		KeyPrefix:    generated.Prefix,
		Capabilities: model.DefaultCapabilities(),
		Tier:         model.DefaultTier,
		CreatedAt:    time.Now().UTC(),
	}
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, keys.CreateAPIKey(context.Background(), key))
	return generated.Plaintext, key
}

// stalledStore blocks every call until its context ends.
type stalledStore struct{}

func (stalledStore) GetAPIKeysByPrefix(ctx context.Context, _ string) ([]*model.APIKey, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) GetPrincipal(ctx context.Context, _ string) (*model.Principal, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) SetPrincipal(ctx context.Context, _ string, _ *model.Principal) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledStore) Take(ctx context.Context, _ string, _ ratelimit.Quota, _ time.Time) (ratelimit.Decision, error) {
	<-ctx.Done()
	return ratelimit.Decision{}, ctx.Err()
}
