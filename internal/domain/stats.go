package domain

import "time"

// StatsStatus describes where a file's aggregation stands.
type StatsStatus string

const (
	StatsProcessing StatsStatus = "processing"
	StatsCompleted  StatsStatus = "completed"
	StatsFailed     StatsStatus = "failed"
)

// LogStats is the aggregate computed for one log file. Failure records carry only
// FileID, JobID, Status and CompletedAt.
type LogStats struct {
	FileID       string           `json:"file_id"`
	JobID        string           `json:"job_id,omitempty"`
	TotalLines   int64            `json:"total_lines"`
	ErrorCount   int64            `json:"errors"`
	WarningCount int64            `json:"warnings"`
	Keywords     map[string]int64 `json:"keywords,omitempty"`
	IPs          map[string]int64 `json:"ips,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Status       StatsStatus      `json:"status"`
}

// FailureRecord returns the minimal terminal record written when an attempt fails.
func FailureRecord(fileID, jobID string, at time.Time) LogStats {
	completed := at.UTC()
	return LogStats{
		FileID:      fileID,
		JobID:       jobID,
		CompletedAt: &completed,
		Status:      StatsFailed,
	}
}

// Progress is a checkpoint of in-flight statistics for a job.
type Progress struct {
	JobID      string    `json:"job_id"`
	FileID     string    `json:"file_id"`
	Stats      LogStats  `json:"stats"`
	ReportedAt time.Time `json:"reported_at"`
}
