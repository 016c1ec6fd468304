package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.StatsRepository = (*Repository)(nil)

// UpsertStats inserts or replaces the stats row for a file.
func (r *Repository) UpsertStats(ctx context.Context, stats domain.LogStats) error {
	row, err := repository.ToRow(stats)
	if err != nil {
		return err
	}
	const query = `INSERT INTO log_stats (file_id, job_id, total_lines, errors, warnings, keywords, ips, started_at, completed_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (file_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			total_lines = EXCLUDED.total_lines,
			errors = EXCLUDED.errors,
			warnings = EXCLUDED.warnings,
			keywords = EXCLUDED.keywords,
			ips = EXCLUDED.ips,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			status = EXCLUDED.status,
			updated_at = now()`
	_, err = r.pool.Exec(ctx, query,
		row.FileID, row.JobID, row.TotalLines, row.Errors, row.Warnings,
		jsonArg(row.Keywords), jsonArg(row.IPs), row.StartedAt, row.CompletedAt, row.Status)
	return err
}

// GetStats returns the stored stats for a file.
func (r *Repository) GetStats(ctx context.Context, fileID string) (*domain.LogStats, error) {
	const query = `SELECT file_id, COALESCE(job_id, ''), total_lines, errors, warnings, keywords, ips, started_at, completed_at, status
		FROM log_stats WHERE file_id = $1`
	var row repository.StatsRow
	err := r.pool.QueryRow(ctx, query, fileID).Scan(
		&row.FileID, &row.JobID, &row.TotalLines, &row.Errors, &row.Warnings,
		&row.Keywords, &row.IPs, &row.StartedAt, &row.CompletedAt, &row.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return row.Stats()
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// jsonArg passes encoded JSON as text so NULL stays NULL for failure records.
func jsonArg(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
