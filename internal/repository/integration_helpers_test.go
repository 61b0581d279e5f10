//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/testutil"
)

// ============================================================================
// Test Environment Setup
// ============================================================================

func newRepositoryTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, repo
}

func createTestAccount(t *testing.T, ctx context.Context, repo *Repository) *model.Account {
	t.Helper()
	account, _, err := repo.GetOrCreateAccountByAddress(ctx, testutil.UniqueAddress(t))
	if err != nil {
		t.Fatalf("GetOrCreateAccountByAddress failed: %v", err)
	}
	return account
}
