package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SalmanGits/Log-bull/internal/app/store"
	httpx "github.com/SalmanGits/Log-bull/internal/http"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/service/ingest"
	"github.com/SalmanGits/Log-bull/internal/service/progress"
	"github.com/SalmanGits/Log-bull/pkg/config"
	"github.com/SalmanGits/Log-bull/pkg/logger"
)

func main() {
	cfg := config.LoadIngestConfig()
	log := logger.New("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := queue.NewRedisClient(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("failed to connect to redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	defer client.Close()

	repo, closeRepo, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open stats store", "backend", cfg.StatsBackend, "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	q := queue.NewRedisQueue(client, cfg.QueueName, cfg.LeaseDuration, log)
	metrics := ingest.NewMetrics(prometheus.DefaultRegisterer)
	proc := ingest.NewProcessor(repo, progress.NewReporter(q), ingest.ProcessorConfig{
		Keywords:        cfg.Keywords,
		CheckpointEvery: cfg.CheckpointEvery,
		MaxLineBytes:    cfg.LineMaxBytes,
	}, metrics, log)
	pool := ingest.NewPool(q, proc, ingest.PoolConfig{
		Concurrency:   cfg.Concurrency,
		PollInterval:  cfg.PollInterval,
		ReapInterval:  cfg.ReapInterval,
		LeaseDuration: cfg.LeaseDuration,
	}, metrics, log)

	srv := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: httpx.NewWorkerHandler(pool, map[string]func(context.Context) error{
			"stats_store": repo.Ping,
			"queue":       q.Ping,
		}, prometheus.DefaultGatherer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker metrics server starting", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("worker starting", "queue", cfg.QueueName, "concurrency", cfg.Concurrency, "keywords", cfg.Keywords)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker pool failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
