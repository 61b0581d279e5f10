package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/noncegate/noncegate/internal/model"
)

// MemoryBackend keeps nonces in process memory. It is only authoritative for
// a single process and serves tests and local development.
type MemoryBackend struct {
	mu     sync.Mutex
	nonces map[string]model.Nonce
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{nonces: make(map[string]model.Nonce)}
}

// Insert stores a new nonce.
func (m *MemoryBackend) Insert(ctx context.Context, n *model.Nonce) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nonces[n.Token]; exists {
		return ErrDuplicateToken
	}
	m.nonces[n.Token] = *n
	return nil
}

// Get returns a copy of the stored nonce.
func (m *MemoryBackend) Get(ctx context.Context, token string) (*model.Nonce, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nonces[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

// Consume marks the nonce used under the backend lock.
func (m *MemoryBackend) Consume(ctx context.Context, token string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nonces[token]
	switch {
	case !ok:
		return ErrNotFound
	case n.Used:
		return ErrAlreadyUsed
	case n.Expired(now):
		return ErrExpired
	}

	usedAt := now.UTC()
	n.Used = true
	n.UsedAt = &usedAt
	m.nonces[token] = n
	return nil
}

// Purge drops nonces used or expired before the cutoff.
func (m *MemoryBackend) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for token, n := range m.nonces {
		usedBefore := n.Used && n.UsedAt != nil && n.UsedAt.Before(before)
		if usedBefore || (n.ExpiresAt != nil && n.ExpiresAt.Before(before)) {
			delete(m.nonces, token)
			removed++
		}
	}
	return removed, nil
}
