package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/repository"
)

const schema = `CREATE TABLE IF NOT EXISTS log_stats (
	file_id       TEXT PRIMARY KEY,
	job_id        TEXT,
	total_lines   INTEGER,
	errors        INTEGER,
	warnings      INTEGER,
	keywords      TEXT,
	ips           TEXT,
	started_at    INTEGER,
	completed_at  INTEGER,
	status        TEXT NOT NULL,
	updated_at    INTEGER NOT NULL
)`

// Repository stores stats in a local SQLite file, for single-node deployments.
type Repository struct {
	conn *sql.DB
	now  func() time.Time
}

var _ repository.StatsRepository = (*Repository)(nil)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Repository, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the worker pool.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Repository{conn: conn, now: time.Now}, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.conn.Close()
}

// UpsertStats inserts or replaces the stats row for a file.
func (r *Repository) UpsertStats(ctx context.Context, stats domain.LogStats) error {
	row, err := repository.ToRow(stats)
	if err != nil {
		return err
	}
	_, err = r.conn.ExecContext(ctx, `
		INSERT INTO log_stats (file_id, job_id, total_lines, errors, warnings, keywords, ips, started_at, completed_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			job_id = excluded.job_id,
			total_lines = excluded.total_lines,
			errors = excluded.errors,
			warnings = excluded.warnings,
			keywords = excluded.keywords,
			ips = excluded.ips,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		row.FileID, row.JobID, row.TotalLines, row.Errors, row.Warnings,
		textArg(row.Keywords), textArg(row.IPs),
		millis(row.StartedAt), millis(row.CompletedAt), row.Status, r.now().UnixMilli())
	return err
}

// GetStats returns the stored stats for a file.
func (r *Repository) GetStats(ctx context.Context, fileID string) (*domain.LogStats, error) {
	var (
		row                   repository.StatsRow
		jobID                 sql.NullString
		keywords, ips         sql.NullString
		startedMS, finishedMS *int64
	)
	err := r.conn.QueryRowContext(ctx, `
		SELECT file_id, job_id, total_lines, errors, warnings, keywords, ips, started_at, completed_at, status
		FROM log_stats WHERE file_id = ?`, fileID).Scan(
		&row.FileID, &jobID, &row.TotalLines, &row.Errors, &row.Warnings,
		&keywords, &ips, &startedMS, &finishedMS, &row.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	row.JobID = jobID.String
	if keywords.Valid {
		row.Keywords = []byte(keywords.String)
	}
	if ips.Valid {
		row.IPs = []byte(ips.String)
	}
	row.StartedAt = fromMillis(startedMS)
	row.CompletedAt = fromMillis(finishedMS)
	return row.Stats()
}

// Ping checks the database handle.
func (r *Repository) Ping(ctx context.Context) error {
	return r.conn.PingContext(ctx)
}

func textArg(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
