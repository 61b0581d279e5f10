package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/noncegate/noncegate/internal/model"
)

// ErrAccountNotFound is returned when no account matches.
var ErrAccountNotFound = errors.New("account not found")

// GetOrCreateAccountByAddress returns the account bound to address,
// creating it on first sight. The address is stored lowercase.
func (r *Repository) GetOrCreateAccountByAddress(ctx context.Context, address string) (*model.Account, bool, error) {
	address = strings.ToLower(address)

	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO accounts (id, address, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, created_at, (xmax = 0) AS inserted
	`

	var account model.Account
	var inserted bool
	err := r.pool.QueryRow(ctx, query, ulid.Make().String(), address, time.Now().UTC()).Scan(
		&account.ID,
		&account.Address,
		&account.CreatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create account: %w", err)
	}

	return &account, inserted, nil
}

// GetAccountByID retrieves an account by its ID.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	query := `
		SELECT id, address, created_at
		FROM accounts
		WHERE id = $1
	`

	var account model.Account
	err := r.pool.QueryRow(ctx, query, id).Scan(&account.ID, &account.Address, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}
