package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
)

// StatsRow is the column layout of the log_stats table shared by the SQL backends.
// Counts and maps are NULL for failure records.
type StatsRow struct {
	FileID      string
	JobID       string
	TotalLines  *int64
	Errors      *int64
	Warnings    *int64
	Keywords    []byte
	IPs         []byte
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      string
}

// ToRow converts a LogStats into its column values.
func ToRow(s domain.LogStats) (StatsRow, error) {
	row := StatsRow{
		FileID:      s.FileID,
		JobID:       s.JobID,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Status:      string(s.Status),
	}
	if s.Status == domain.StatsFailed {
		return row, nil
	}
	total, errs, warns := s.TotalLines, s.ErrorCount, s.WarningCount
	row.TotalLines, row.Errors, row.Warnings = &total, &errs, &warns

	var err error
	if row.Keywords, err = encodeCounts(s.Keywords); err != nil {
		return StatsRow{}, fmt.Errorf("encode keywords: %w", err)
	}
	if row.IPs, err = encodeCounts(s.IPs); err != nil {
		return StatsRow{}, fmt.Errorf("encode ips: %w", err)
	}
	return row, nil
}

// Stats converts the row back into a LogStats.
func (r StatsRow) Stats() (*domain.LogStats, error) {
	s := &domain.LogStats{
		FileID:      r.FileID,
		JobID:       r.JobID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Status:      domain.StatsStatus(r.Status),
	}
	if r.TotalLines != nil {
		s.TotalLines = *r.TotalLines
	}
	if r.Errors != nil {
		s.ErrorCount = *r.Errors
	}
	if r.Warnings != nil {
		s.WarningCount = *r.Warnings
	}
	var err error
	if s.Keywords, err = decodeCounts(r.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if s.IPs, err = decodeCounts(r.IPs); err != nil {
		return nil, fmt.Errorf("decode ips: %w", err)
	}
	return s, nil
}

func encodeCounts(m map[string]int64) ([]byte, error) {
	if m == nil {
		m = map[string]int64{}
	}
	return json.Marshal(m)
}

func decodeCounts(raw []byte) (map[string]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]int64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
