// Command migrate applies or reverts the SQL migrations in migrations/.
//
//	migrate [-dir migrations] up
//	migrate [-dir migrations] [-steps 1] down
//	migrate status
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/noncegate/noncegate/internal/migrate"
)

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		dir         = flag.String("dir", "migrations", "Directory holding NNNNNN_name.{up,down}.sql files")
		steps       = flag.Int("steps", 1, "Number of migrations to revert with down")
		timeout     = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	migrations, err := migrate.Load(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load migrations:", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	m := migrate.New(db, migrations, logger)
	switch command {
	case "up":
		n, err := m.Up(ctx)
		if err != nil {
			logger.Error("migrate up failed", "applied", n, "error", err)
			os.Exit(1)
		}
		logger.Info("migrate up complete", "applied", n)
	case "down":
		n, err := m.Down(ctx, *steps)
		if err != nil {
			logger.Error("migrate down failed", "reverted", n, "error", err)
			os.Exit(1)
		}
		logger.Info("migrate down complete", "reverted", n)
	case "status":
		applied, err := m.Applied(ctx)
		if err != nil {
			logger.Error("migrate status failed", "error", err)
			os.Exit(1)
		}
		for _, mig := range migrations {
			state := "pending"
			for _, v := range applied {
				if v == mig.Version {
					state = "applied"
					break
				}
			}
			fmt.Printf("%06d_%s\t%s\n", mig.Version, mig.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; use up, down or status\n", command)
		os.Exit(2)
	}
}
