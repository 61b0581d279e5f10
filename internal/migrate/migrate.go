// Package migrate applies the numbered SQL files under migrations/ and tracks
// them in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Migration is one numbered up/down pair.
type Migration struct {
	Version  int64
	Name     string
	UpPath   string
	DownPath string
}

var (
	ErrNoMigrations = errors.New("no migrations found")
	ErrMissingDown  = errors.New("migration has no down file")
)

// Load reads NNNNNN_name.up.sql / .down.sql pairs from dir, sorted by version.
func Load(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		var direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(name, ".down.sql"):
			direction = "down"
		default:
			continue
		}

		base := strings.TrimSuffix(name, "."+direction+".sql")
		versionPart, label, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: expected NNNNNN_name", name)
		}
		version, err := strconv.ParseInt(versionPart, 10, 64)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %q: invalid version", name)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		} else if m.Name != label {
			return nil, fmt.Errorf("migration version %d used by %q and %q", version, m.Name, label)
		}

		path := filepath.Join(dir, name)
		if direction == "up" {
			m.UpPath = path
		} else {
			m.DownPath = path
		}
	}

	if len(byVersion) == 0 {
		return nil, ErrNoMigrations
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" {
			return nil, fmt.Errorf("migration %d_%s has no up file", m.Version, m.Name)
		}
		if m.DownPath == "" {
			return nil, fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, ErrMissingDown)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator runs migrations against a database/sql connection.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *slog.Logger
}

// New creates a Migrator.
func New(db *sql.DB, migrations []Migration, logger *slog.Logger) *Migrator {
	return &Migrator{db: db, migrations: migrations, logger: logger.With("component", "migrate")}
}

const createVersionsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Applied returns the applied versions in ascending order.
func (m *Migrator) Applied(ctx context.Context) ([]int64, error) {
	if _, err := m.db.ExecContext(ctx, createVersionsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Up applies every pending migration in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range Pending(m.migrations, applied) {
		if err := m.apply(ctx, mig, mig.UpPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		}); err != nil {
			return ran, err
		}
		m.logger.Info("applied migration", "version", mig.Version, "name", mig.Name)
		ran++
	}
	return ran, nil
}

// Down reverts the most recent steps applied migrations.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	known := make(map[int64]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = mig
	}

	ran := 0
	for i := len(applied) - 1; i >= 0 && ran < steps; i-- {
		mig, ok := known[applied[i]]
		if !ok {
			return ran, fmt.Errorf("applied migration %d has no file", applied[i])
		}
		if err := m.apply(ctx, mig, mig.DownPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		}); err != nil {
			return ran, err
		}
		m.logger.Info("reverted migration", "version", mig.Version, "name", mig.Name)
		ran++
	}
	return ran, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration, path string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("migration %d_%s: %s", mig.Version, mig.Name, describe(err))
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

// Pending returns the migrations not in applied, in order.
func Pending(migrations []Migration, applied []int64) []Migration {
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	var out []Migration
	for _, mig := range migrations {
		if !done[mig.Version] {
			out = append(out, mig)
		}
	}
	return out
}

// describe adds the Postgres error detail lib/pq carries.
func describe(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		msg := fmt.Sprintf("%s (SQLSTATE %s)", pqErr.Message, pqErr.Code)
		if pqErr.Detail != "" {
			msg += ": " + pqErr.Detail
		}
		return msg
	}
	return err.Error()
}
