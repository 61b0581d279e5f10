package handler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory account and API key repository.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	keys     map[string]*model.APIKey
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*model.Account),
		keys:     make(map[string]*model.APIKey),
	}
}

func (m *memStore) GetOrCreateAccountByAddress(_ context.Context, addr string) (*model.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr = strings.ToLower(addr)
	if a, ok := m.accounts[addr]; ok {
		return a, false, nil
	}
	a := &model.Account{ID: ulid.Make().String(), Address: addr, CreatedAt: time.Now().UTC()}
	m.accounts[addr] = a
	return a, true, nil
}

func (m *memStore) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memStore) GetAPIKeyByID(_ context.Context, id string) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memStore) ListAPIKeysByAccount(_ context.Context, accountID string) ([]*model.APIKey, error) {
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

func (m *memStore) UpdateAPIKey(_ context.Context, key *model.APIKey) error {
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

func (m *memStore) RevokeAPIKey(_ context.Context, accountID, id string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeLocked(accountID, id)
}

func (m *memStore) revokeLocked(accountID, id string) (time.Time, error) {
	k, ok := m.keys[id]
	if !ok || k.AccountID != accountID || k.IsRevoked() {
		return time.Time{}, repository.ErrAPIKeyNotFound
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	return now, nil
}

func (m *memStore) RotateAPIKey(_ context.Context, accountID, oldID string, next *model.APIKey) (time.Time, error) {
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
