package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/pkg/config"
	"github.com/SalmanGits/Log-bull/pkg/logger"
)

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := config.IngestConfig{StatsBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "stats.db")}
	repo, closeFn, err := Open(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()

	if err := repo.UpsertStats(context.Background(), domain.LogStats{FileID: "f-1", Status: domain.StatsCompleted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, _, err := Open(context.Background(), config.IngestConfig{StatsBackend: "mongo"}, logger.Discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
