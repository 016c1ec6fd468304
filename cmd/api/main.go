package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SalmanGits/Log-bull/internal/app/store"
	httpx "github.com/SalmanGits/Log-bull/internal/http"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/service/progress"
	"github.com/SalmanGits/Log-bull/internal/service/submit"
	"github.com/SalmanGits/Log-bull/internal/ws"
	"github.com/SalmanGits/Log-bull/pkg/config"
	"github.com/SalmanGits/Log-bull/pkg/logger"
)

func main() {
	cfg := config.LoadIngestConfig()
	log := logger.New("api", cfg.LogLevel)

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
	submitSvc := submit.NewService(q, queue.Options{
		MaxAttempts:      cfg.MaxAttempts,
		Backoff:          cfg.Backoff,
		RemoveOnComplete: cfg.RemoveOnComplete,
		RemoveOnFail:     cfg.RemoveOnFail,
	}, log)

	hub := ws.NewHub()
	defer hub.Close()
	progressSvc := progress.NewService(q, hub, log)
	go func() {
		if err := progressSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("progress subscription stopped", "error", err)
		}
	}()

	router := httpx.NewRouter(log, httpx.Options{
		Submit:   submitSvc,
		Jobs:     q,
		Stats:    repo,
		Progress: progressSvc,
		HealthChecks: map[string]func(context.Context) error{
			"stats_store": repo.Ping,
			"queue":       q.Ping,
		},
		APIToken:    cfg.APIToken,
		Limiter:     httpx.NewRedisRateLimiter(client, log),
		SubmitLimit: cfg.SubmitRateLimit,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(router.Close)

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "queue", cfg.QueueName, "stats_backend", cfg.StatsBackend)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
