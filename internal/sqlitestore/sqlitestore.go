// Package sqlitestore is a single-node nonce backend on SQLite
// (modernc.org/sqlite, no cgo). SQLite serializes writers, so an
// UPDATE ... RETURNING is the atomic consume.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

const schema = `
	CREATE TABLE IF NOT EXISTS nonces (
		token      TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		used       INTEGER NOT NULL DEFAULT 0,
		used_at    INTEGER,

		CHECK (length(token) = 60),
		CHECK (used IN (0, 1))
	);

	CREATE INDEX IF NOT EXISTS idx_nonces_expires_at ON nonces(expires_at);
`

// Store is a nonce.Backend on a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ nonce.Backend = (*Store)(nil)
	_ nonce.Purger  = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies the schema.
// Parent directories are created if needed.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "sqlitestore")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: every statement runs under the same writer lock.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite nonce store initialized", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores n, failing with nonce.ErrDuplicateToken if the token exists.
func (s *Store) Insert(ctx context.Context, n *model.Nonce) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (token, created_at, expires_at, used)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (token) DO NOTHING
	`, n.Token, n.CreatedAt.UnixMilli(), toMillis(n.ExpiresAt))
	if err != nil {
		return fmt.Errorf("inserting nonce: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting nonce: %w", err)
	}
	if affected == 0 {
		return nonce.ErrDuplicateToken
	}
	return nil
}

// Get loads a nonce.
func (s *Store) Get(ctx context.Context, token string) (*model.Nonce, error) {
	var (
		createdAt int64
		expiresAt sql.NullInt64
		used      bool
		usedAt    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at, expires_at, used, used_at
		FROM nonces
		WHERE token = ?
	`, token).Scan(&createdAt, &expiresAt, &used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nonce.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting nonce: %w", err)
	}

	return &model.Nonce{
		Token:     token,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		ExpiresAt: fromMillis(expiresAt),
		Used:      used,
		UsedAt:    fromMillis(usedAt),
	}, nil
}

// Consume marks the nonce used if it is valid at now.
func (s *Store) Consume(ctx context.Context, token string, now time.Time) error {
	nowMillis := now.UnixMilli()

	var consumed string
	err := s.db.QueryRowContext(ctx, `
		UPDATE nonces
		SET used = 1, used_at = ?
		WHERE token = ?
		  AND used = 0
		  AND (expires_at IS NULL OR expires_at > ?)
		RETURNING token
	`, nowMillis, token, nowMillis).Scan(&consumed)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("consuming nonce: %w", err)
	}

	n, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	if n.Expired(now) && !n.Used {
		return nonce.ErrExpired
	}
	return nonce.ErrAlreadyUsed
}

// Purge deletes nonces used or expired before the cutoff.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM nonces
		WHERE (used = 1 AND used_at < ?)
		   OR (expires_at IS NOT NULL AND expires_at < ?)
	`, before.UnixMilli(), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("purged nonces", "count", removed)
	}
	return removed, nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
