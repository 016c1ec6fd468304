// Package progress publishes ingestion checkpoints and relays them to live subscribers.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
)

// Updater stores and publishes a job's latest progress.
type Updater interface {
	UpdateProgress(ctx context.Context, job *queue.Job, payload []byte) error
}

// Reporter turns accumulator snapshots into queue progress updates.
type Reporter struct {
	queue Updater
	now   func() time.Time
}

// NewReporter constructs a Reporter.
func NewReporter(q Updater) *Reporter {
	return &Reporter{queue: q, now: time.Now}
}

// Report publishes snapshot as the job's current progress.
func (r *Reporter) Report(ctx context.Context, job *queue.Job, snapshot domain.LogStats) error {
	payload, err := json.Marshal(domain.Progress{
		JobID:      job.ID,
		FileID:     job.Data.FileID,
		Stats:      snapshot,
		ReportedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return r.queue.UpdateProgress(ctx, job, payload)
}
