package repository

import (
	"context"

	"github.com/SalmanGits/Log-bull/internal/domain"
)

// StatsRepository persists per-file aggregates. UpsertStats is keyed by FileID and
// replaces the stored record, so repeating a write is harmless.
type StatsRepository interface {
	UpsertStats(ctx context.Context, stats domain.LogStats) error
	GetStats(ctx context.Context, fileID string) (*domain.LogStats, error)
	Ping(ctx context.Context) error
}
