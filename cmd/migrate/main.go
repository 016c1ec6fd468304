package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SalmanGits/Log-bull/internal/app/migrate"
	"github.com/SalmanGits/Log-bull/pkg/config"
	"github.com/SalmanGits/Log-bull/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	embedded := flag.Bool("embedded", false, "use the migrations compiled into the binary")
	flag.Parse()

	cfg := config.LoadIngestConfig()
	log := logger.New("migrate", cfg.LogLevel)

	if cfg.StatsBackend == "sqlite" {
		log.Info("sqlite backend creates its schema on open; nothing to migrate", "path", cfg.SQLitePath)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	dir := cfg.MigrationsDir
	if *embedded {
		dir = ""
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, dir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
