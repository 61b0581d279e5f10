//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
	"github.com/noncegate/noncegate/internal/nonce/noncetest"
)

func TestIntegrationNonceBackend(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)

	noncetest.RunBackendSuite(t, func(t *testing.T) nonce.Backend {
		if _, err := repo.Pool().Exec(ctx, "TRUNCATE nonces"); err != nil {
			t.Fatalf("truncate nonces: %v", err)
		}
		return NewNonceBackend(repo)
	})
}

func TestIntegrationNonceBackend_Purge(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	b := NewNonceBackend(repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &model.Nonce{Token: token("a"), CreatedAt: past, ExpiresAt: &past}
	used := &model.Nonce{Token: token("b"), CreatedAt: now, ExpiresAt: &future}
	live := &model.Nonce{Token: token("c"), CreatedAt: now, ExpiresAt: &future}
	recent := &model.Nonce{Token: token("d"), CreatedAt: now, ExpiresAt: &future}
	for _, n := range []*model.Nonce{expired, used, live, recent} {
		if err := b.Insert(ctx, n); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := b.Consume(ctx, used.Token, now); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	cutoff := now.Add(time.Minute)
	if err := b.Consume(ctx, recent.Token, cutoff.Add(time.Second)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	removed, err := b.Purge(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 purged nonces, got %d", removed)
	}
	if _, err := b.Get(ctx, live.Token); err != nil {
		t.Errorf("Live nonce should survive purge: %v", err)
	}
	if err := b.Consume(ctx, recent.Token, cutoff.Add(2*time.Second)); !errors.Is(err, nonce.ErrAlreadyUsed) {
		t.Errorf("Expected recently used nonce to report already used, got %v", err)
	}
}

func token(ch string) string {
	out := make([]byte, 0, nonce.TokenLength)
	for len(out) < nonce.TokenLength {
		out = append(out, ch[0])
	}
	return string(out)
}
