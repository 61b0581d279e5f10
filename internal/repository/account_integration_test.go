//go:build integration

package repository

import (
	"errors"
	"strings"
	"testing"

	"github.com/noncegate/noncegate/internal/testutil"
)

func TestIntegrationAccountRepository_GetOrCreate(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	address := testutil.UniqueAddress(t)

	first, created, err := repo.GetOrCreateAccountByAddress(ctx, "0x"+strings.ToUpper(address[2:]))
	if err != nil {
		t.Fatalf("GetOrCreateAccountByAddress failed: %v", err)
	}
	if !created {
		t.Error("Expected the first call to create the account")
	}

	second, created, err := repo.GetOrCreateAccountByAddress(ctx, address)
	if err != nil {
		t.Fatalf("GetOrCreateAccountByAddress failed: %v", err)
	}
	if created {
		t.Error("Expected the second call to return the existing account")
	}
	if first.ID != second.ID {
		t.Errorf("Account ID mismatch: %q vs %q", first.ID, second.ID)
	}
	if second.Address != address {
		t.Errorf("Address should be stored lowercase, got %q", second.Address)
	}

	got, err := repo.GetAccountByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if got.Address != second.Address {
		t.Errorf("Address mismatch: %q", got.Address)
	}
}

func TestIntegrationAccountRepository_NotFound(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)

	if _, err := repo.GetAccountByID(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got: %v", err)
	}
}
