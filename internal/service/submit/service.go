package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/scheduler"
)

var (
	// ErrInvalidRequest is returned when a submission is missing required fields.
	ErrInvalidRequest = errors.New("submit: invalid request")
)

// Enqueuer is the part of the queue submission needs.
type Enqueuer interface {
	Add(ctx context.Context, data queue.Data, priority int, opts queue.Options) (*queue.Job, error)
}

// Service turns file submissions into prioritized queue jobs.
type Service struct {
	queue  Enqueuer
	opts   queue.Options
	logger *slog.Logger
	stat   func(string) (os.FileInfo, error)
}

// NewService constructs a Service enqueueing with opts.
func NewService(q Enqueuer, opts queue.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queue: q, opts: opts, logger: logger.With("component", "submit"), stat: os.Stat}
}

// Submit enqueues fileID for ingestion. Larger files get a numerically larger, and
// therefore later, priority.
func (s *Service) Submit(ctx context.Context, fileID, filePath string, fileSize int64) (*queue.Job, error) {
	fileID = strings.TrimSpace(fileID)
	filePath = strings.TrimSpace(filePath)
	if fileID == "" || filePath == "" {
		return nil, fmt.Errorf("%w: file_id and file_path are required", ErrInvalidRequest)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("%w: negative file size", ErrInvalidRequest)
	}
	priority := scheduler.Priority(fileSize)
	job, err := s.queue.Add(ctx, queue.Data{FileID: fileID, FilePath: filePath, FileSize: fileSize}, priority, s.opts)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", fileID, err)
	}
	s.logger.Info("file submitted", "job_id", job.ID, "file_id", fileID, "file_size", fileSize, "priority", priority)
	return job, nil
}

// SubmitPath is Submit for a file on the local disk whose size is read from the filesystem.
func (s *Service) SubmitPath(ctx context.Context, fileID, filePath string) (*queue.Job, error) {
	info, err := s.stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidRequest, filePath)
	}
	return s.Submit(ctx, fileID, filePath, info.Size())
}
