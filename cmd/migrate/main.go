// Package main applies the embedded database migrations.
//
// Usage:
//
//	migrate up
//	migrate down
//	migrate steps N
//	migrate version
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"stockmatch/internal/config"
	"stockmatch/internal/infrastructure/storage/postgres/migrations"
	"stockmatch/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|steps N|version")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "STOCKMATCH_DATABASE_URL is required")
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.AppEnv == "development"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithLogger(context.Background(), log)

	if err := run(ctx, cfg.DatabaseURL, os.Args[1:]); err != nil {
		log.Fatalw("migration failed", "command", os.Args[1], "error", err)
	}
}

func run(ctx context.Context, dsn string, args []string) error {
	m, err := migrations.New(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps requires a count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", args[1], err)
		}
		return m.Steps(ctx, n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
