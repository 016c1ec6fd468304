// Package queue holds ingestion jobs between submission and execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrEmpty indicates no job is ready to be claimed.
	ErrEmpty = errors.New("queue: no job ready")
	// ErrNotFound indicates the job does not exist (or was removed on completion).
	ErrNotFound = errors.New("queue: job not found")
	// ErrLeaseLost indicates the job is no longer leased by the caller.
	ErrLeaseLost = errors.New("queue: lease lost")
)

// State is the position of a job in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Data is the job payload: which file to ingest.
type Data struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// Options control retry and retention for a job.
type Options struct {
	MaxAttempts      int           `json:"max_attempts"`
	Backoff          time.Duration `json:"backoff"`
	RemoveOnComplete bool          `json:"remove_on_complete"`
	RemoveOnFail     bool          `json:"remove_on_fail"`
}

// DefaultOptions retries three times starting at one second, drops completed jobs
// and keeps failed ones for inspection.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		Backoff:          time.Second,
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// Job is a unit of work tracked through its attempts.
type Job struct {
	ID           string          `json:"id"`
	Data         Data            `json:"data"`
	Priority     int             `json:"priority"`
	AttemptsMade int             `json:"attempts_made"`
	Options      Options         `json:"options"`
	State        State           `json:"state"`
	Progress     json.RawMessage `json:"progress,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  time.Time       `json:"processed_at,omitempty"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
	// Lease identifies the claim that handed this job out. Extend, Complete and Fail
	// only succeed while it is current.
	Lease string `json:"-"`
}

// Queue is a durable priority queue with leased, at-least-once delivery.
// Lower priority values are claimed first; equal priorities are FIFO.
type Queue interface {
	Add(ctx context.Context, data Data, priority int, opts Options) (*Job, error)
	Claim(ctx context.Context) (*Job, error)
	Extend(ctx context.Context, job *Job) error
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job, cause error) (retrying bool, err error)
	UpdateProgress(ctx context.Context, job *Job, payload []byte) error
	Get(ctx context.Context, id string) (*Job, error)
	Counts(ctx context.Context) (map[State]int64, error)
	RequeueExpired(ctx context.Context) (int, error)
}
