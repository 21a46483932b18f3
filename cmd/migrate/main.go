package main

// migrate applies or rolls back the embedded database schema.

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"

	"github.com/darjeelingmomo/momoshop/internal/db"
)

type migrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
}

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or status")
	steps := flag.Int("steps", 0, "number of migrations to apply or roll back (0 = all for up, 1 for down)")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	if err := run(logger, *direction, *steps); err != nil {
		logger.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, direction string, steps int) error {
	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool)
	switch direction {
	case "up":
		if err := migrator.Up(ctx, steps); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(ctx, steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}

	version, applied, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	logger.Info("migration status", "version", version, "applied", applied)
	return nil
}
