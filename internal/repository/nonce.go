package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

// NonceBackend stores nonces in PostgreSQL.
type NonceBackend struct {
	repo *Repository
}

// NewNonceBackend returns a nonce.Backend backed by repo.
func NewNonceBackend(repo *Repository) *NonceBackend {
	return &NonceBackend{repo: repo}
}

var (
	_ nonce.Backend = (*NonceBackend)(nil)
	_ nonce.Purger  = (*NonceBackend)(nil)
)

// Insert stores n, failing with nonce.ErrDuplicateToken if the token exists.
func (b *NonceBackend) Insert(ctx context.Context, n *model.Nonce) error {
	query := `
		INSERT INTO nonces (token, created_at, expires_at, used)
		VALUES ($1, $2, $3, false)
	`

	_, err := b.repo.pool.Exec(ctx, query, n.Token, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nonce.ErrDuplicateToken
		}
		return fmt.Errorf("failed to insert nonce: %w", err)
	}

	return nil
}

// Get loads a nonce.
func (b *NonceBackend) Get(ctx context.Context, token string) (*model.Nonce, error) {
	query := `
		SELECT token, created_at, expires_at, used, used_at
		FROM nonces
		WHERE token = $1
	`

	var n model.Nonce
	err := b.repo.pool.QueryRow(ctx, query, token).Scan(
		&n.Token,
		&n.CreatedAt,
		&n.ExpiresAt,
		&n.Used,
		&n.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nonce.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	return normalizeNonceTimes(&n), nil
}

// Consume marks the nonce used if it is valid at now.
//
// The conditional UPDATE is the only write; under READ COMMITTED a second
// writer blocks on the row lock, re-checks used = false and matches nothing.
// The snapshot read in the same statement only explains a miss.
func (b *NonceBackend) Consume(ctx context.Context, token string, now time.Time) error {
	query := `
		WITH consumed AS (
			UPDATE nonces
			SET used = true, used_at = $2
			WHERE token = $1
			  AND used = false
			  AND (expires_at IS NULL OR expires_at > $2)
			RETURNING token
		)
		SELECT
			EXISTS (SELECT 1 FROM consumed),
			n.used,
			n.expires_at
		FROM (SELECT 1) AS one
		LEFT JOIN nonces n ON n.token = $1
	`

	var (
		consumed  bool
		used      *bool
		expiresAt *time.Time
	)
	if err := b.repo.pool.QueryRow(ctx, query, token, now).Scan(&consumed, &used, &expiresAt); err != nil {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}

	return classifyConsume(consumed, used, expiresAt, now)
}

// Purge deletes nonces used or expired before the cutoff.
func (b *NonceBackend) Purge(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM nonces
		WHERE (used = true AND used_at < $1)
		   OR (expires_at IS NOT NULL AND expires_at < $1)
	`

	result, err := b.repo.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	return result.RowsAffected(), nil
}

// classifyConsume explains a consume from the statement's snapshot. A row
// that looked valid but was not updated lost a race to a concurrent
// consumer.
func classifyConsume(consumed bool, used *bool, expiresAt *time.Time, now time.Time) error {
	switch {
	case consumed:
		return nil
	case used == nil:
		return nonce.ErrNotFound
	case *used:
		return nonce.ErrAlreadyUsed
	case expiresAt != nil && !now.Before(*expiresAt):
		return nonce.ErrExpired
	default:
		return nonce.ErrAlreadyUsed
	}
}

func normalizeNonceTimes(n *model.Nonce) *model.Nonce {
	n.CreatedAt = n.CreatedAt.UTC()
	if n.ExpiresAt != nil {
		t := n.ExpiresAt.UTC()
		n.ExpiresAt = &t
	}
	if n.UsedAt != nil {
		t := n.UsedAt.UTC()
		n.UsedAt = &t
	}
	return n
}
