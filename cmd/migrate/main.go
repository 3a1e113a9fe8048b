package main

import (
	"CoverPool/internal/config"
	"CoverPool/internal/observability"
	"CoverPool/internal/persistence"
	"CoverPool/migrations"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  COVERPOOL_CONFIG        - config file (postgres.dsn, postgres.migrations_dir)")
		fmt.Println("  COVERPOOL_POSTGRES_DSN  - overrides the configured DSN")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load(os.Getenv(config.PathEnv))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var fsys fs.FS = migrations.FS
	if cfg.Postgres.MigrationsDir != "" {
		fsys = os.DirFS(cfg.Postgres.MigrationsDir)
	}

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, fsys, logger)

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if rolled {
			logger.Info().Msg("last migration rolled back")
		} else {
			logger.Info().Msg("nothing to roll back")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
