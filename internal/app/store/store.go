// Package store opens the configured stats backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SalmanGits/Log-bull/internal/app/migrate"
	"github.com/SalmanGits/Log-bull/internal/repository"
	"github.com/SalmanGits/Log-bull/internal/repository/postgres"
	"github.com/SalmanGits/Log-bull/internal/repository/sqlite"
	"github.com/SalmanGits/Log-bull/pkg/config"
)

// Open returns the stats repository selected by cfg.StatsBackend and a function
// releasing its connections.
func Open(ctx context.Context, cfg config.IngestConfig, log *slog.Logger) (repository.StatsRepository, func(), error) {
	switch cfg.StatsBackend {
	case "sqlite":
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Info("stats backend ready", "backend", "sqlite", "path", cfg.SQLitePath)
		return repo, func() { _ = repo.Close() }, nil
	case "", "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.AutoMigrate {
			dir := cfg.MigrationsDir
			if _, err := os.Stat(dir); err != nil {
				dir = ""
			}
			runner, err := migrate.New(pool, cfg.DatabaseURL, dir, log)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("configure migrations: %w", err)
			}
			if err := runner.Ensure(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		log.Info("stats backend ready", "backend", "postgres")
		return postgres.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown stats backend %q", cfg.StatsBackend)
	}
}
