package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/noncegate/noncegate/internal/model"
)

// Common errors for API key repository operations.
var (
	ErrAPIKeyNotFound = errors.New("API key not found")
	ErrAPIKeyExists   = errors.New("API key already exists")
)

const apiKeyColumns = `id, account_id, key_hash, key_prefix, can_submit, can_read, can_create_scorers, tier, name, revoked_at, last_used_at, created_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateAPIKey inserts a new API key into the database.
func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	return insertAPIKey(ctx, r.pool, key)
}

func insertAPIKey(ctx context.Context, q querier, key *model.APIKey) error {
	query := `
		INSERT INTO api_keys (id, account_id, key_hash, key_prefix, can_submit, can_read, can_create_scorers, tier, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := q.Exec(ctx, query,
		key.ID,
		key.AccountID,
		key.KeyHash,
		key.KeyPrefix,
		key.Capabilities.Submit,
		key.Capabilities.Read,
		key.Capabilities.CreateScorers,
		key.Tier.String(),
		key.Name,
		key.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrAPIKeyExists
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// GetAPIKeyByID retrieves an API key by its ID.
func (r *Repository) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	key, err := scanAPIKey(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return key, nil
}

// GetAPIKeysByPrefix retrieves every API key matching a prefix, revoked ones
// included, so the caller can tell a revoked key from an unknown one.
func (r *Repository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1`

	rows, err := r.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get API keys by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

// ListAPIKeysByAccount retrieves all API keys for an account, newest first.
func (r *Repository) ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*model.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return collectAPIKeys(rows)
}

// UpdateAPIKey persists name, capabilities and tier of an active key owned
// by key.AccountID.
func (r *Repository) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	query := `
		UPDATE api_keys
		SET name = $3, can_submit = $4, can_read = $5, can_create_scorers = $6, tier = $7
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		key.ID,
		key.AccountID,
		key.Name,
		key.Capabilities.Submit,
		key.Capabilities.Read,
		key.Capabilities.CreateScorers,
		key.Tier.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// RevokeAPIKey revokes an active API key owned by accountID.
func (r *Repository) RevokeAPIKey(ctx context.Context, accountID, id string) (time.Time, error) {
	return revokeAPIKey(ctx, r.pool, accountID, id, time.Now().UTC())
}

func revokeAPIKey(ctx context.Context, q querier, accountID, id string, at time.Time) (time.Time, error) {
	query := `
		UPDATE api_keys
		SET revoked_at = $3
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
	`

	result, err := q.Exec(ctx, query, id, accountID, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to revoke API key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return time.Time{}, ErrAPIKeyNotFound
	}

	return at, nil
}

// RotateAPIKey revokes oldID and inserts next in one transaction. next
// inherits nothing implicitly; the caller copies the settings it wants kept.
func (r *Repository) RotateAPIKey(ctx context.Context, accountID, oldID string, next *model.APIKey) (time.Time, error) {
	var revokedAt time.Time
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		revokedAt, err = revokeAPIKey(ctx, tx, accountID, oldID, time.Now().UTC())
		if err != nil {
			return err
		}
		return insertAPIKey(ctx, tx, next)
	})
	if err != nil {
		return time.Time{}, err
	}
	return revokedAt, nil
}

// TouchAPIKeysLastUsed sets last_used_at for every key in ids. Timestamps
// only move forward.
func (r *Repository) TouchAPIKeysLastUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE api_keys
		SET last_used_at = $2
		WHERE id = ANY($1) AND (last_used_at IS NULL OR last_used_at < $2)
	`

	if _, err := r.pool.Exec(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("failed to update API key last used: %w", err)
	}

	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*model.APIKey, error) {
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}

// scanAPIKey scans one row in apiKeyColumns order. pgx.Rows satisfies
// pgx.Row, so it serves both single and multi-row queries.
func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var key model.APIKey
	var tier string

	err := row.Scan(
		&key.ID,
		&key.AccountID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Capabilities.Submit,
		&key.Capabilities.Read,
		&key.Capabilities.CreateScorers,
		&tier,
		&key.Name,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if key.Tier, err = model.ParseTier(tier); err != nil {
		return nil, err
	}
	return &key, nil
}
