// Command migrate applies, rolls back, and inspects the SQL migrations
// shipped under migrations/. Exactly one action flag must be given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/config"
	"github.com/helixir/fulltext-service/internal/database"
	"github.com/helixir/fulltext-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply N steps (negative rolls back)")
	version := flag.Bool("version", false, "print the current schema version")
	force := flag.Int("force", -1, "set the schema version without running migrations (recovery)")
	path := flag.String("path", "", "migrations directory (defaults to the configured path)")
	flag.Parse()

	actions := 0
	for _, chosen := range []bool{*up, *down, *steps != 0, *version, *force >= 0} {
		if chosen {
			actions++
		}
	}
	if actions != 1 {
		flag.Usage()
		return fmt.Errorf("exactly one of -up, -down, -steps, -version, -force is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *path != "" {
		migrationDir = *path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close migrator")
		}
	}()

	switch {
	case *up:
		err = migrator.Up()
	case *down:
		logger.Warn().Msg("rolling back all migrations")
		err = migrator.Down()
	case *steps != 0:
		err = migrator.Steps(*steps)
	case *force >= 0:
		logger.Warn().Int("version", *force).Msg("forcing schema version")
		err = migrator.Force(*force)
	}
	if err != nil {
		return err
	}

	printVersion(migrator, logger)
	return nil
}

func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current schema version")
}
