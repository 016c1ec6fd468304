// Package ingest streams queued log files through the parser and accumulator and
// persists the resulting statistics.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/parser"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/repository"
	"github.com/SalmanGits/Log-bull/internal/stats"
)

// ProgressReporter publishes in-flight checkpoints for a job.
type ProgressReporter interface {
	Report(ctx context.Context, job *queue.Job, snapshot domain.LogStats) error
}

// ProcessorConfig tunes what the processor tracks.
type ProcessorConfig struct {
	Keywords        []string
	CheckpointEvery int
	// MaxLineBytes caps how much of a single line is kept. Zero keeps lines whole.
	MaxLineBytes    int
}

// Processor runs one job attempt end to end.
type Processor struct {
	repo            repository.StatsRepository
	reporter        ProgressReporter
	keywords        []string
	checkpointEvery int
	maxLineBytes    int
	metrics         *Metrics
	logger          *slog.Logger
	now             func() time.Time

	mu       sync.RWMutex
	observer func(jobID string, state State)
}

// NewProcessor constructs a Processor. reporter and metrics may be nil.
func NewProcessor(repo repository.StatsRepository, reporter ProgressReporter, cfg ProcessorConfig, metrics *Metrics, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = stats.DefaultCheckpointEvery
	}
	return &Processor{
		repo:            repo,
		reporter:        reporter,
		keywords:        append([]string(nil), cfg.Keywords...),
		checkpointEvery: cfg.CheckpointEvery,
		maxLineBytes:    cfg.MaxLineBytes,
		metrics:         metrics,
		logger:          logger.With("component", "processor"),
		now:             time.Now,
	}
}

// Observe registers fn to be told about every state transition.
func (p *Processor) Observe(fn func(jobID string, state State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

func (p *Processor) transition(job *queue.Job, state State) {
	p.mu.RLock()
	fn := p.observer
	p.mu.RUnlock()
	if fn != nil {
		fn(job.ID, state)
	}
}

// Process streams the job's file, checkpointing progress, and upserts the final stats.
// On failure a minimal failed record replaces whatever was stored for the file and the
// original error is returned so the queue can account for the attempt.
func (p *Processor) Process(ctx context.Context, job *queue.Job) (domain.LogStats, error) {
	log := p.logger.With("job_id", job.ID, "file_id", job.Data.FileID)
	acc := stats.New(job.Data.FileID, job.ID, p.keywords, p.now(), stats.WithCheckpointEvery(p.checkpointEvery))

	p.transition(job, StateStreaming)
	err := p.stream(ctx, job, acc, log)
	if err != nil {
		return p.fail(ctx, job, log, fmt.Errorf("%s: %w", StateStreaming, err))
	}

	p.transition(job, StateFinalizing)
	final, err := acc.Finalize(p.now())
	if err != nil {
		return p.fail(ctx, job, log, fmt.Errorf("%s: %w", StateFinalizing, err))
	}
	if err := p.repo.UpsertStats(ctx, final); err != nil {
		return p.fail(ctx, job, log, fmt.Errorf("%s: persist stats: %w", StateFinalizing, err))
	}

	p.transition(job, StateCompleted)
	log.Info("file processed",
		"total_lines", final.TotalLines,
		"errors", final.ErrorCount,
		"warnings", final.WarningCount,
		"distinct_ips", len(final.IPs),
	)
	return final, nil
}

func (p *Processor) stream(ctx context.Context, job *queue.Job, acc *stats.Accumulator, log *slog.Logger) error {
	src, err := openSource(job.Data.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()

	var reported int64
	defer func() { p.metrics.addLines(acc.TotalLines() - reported) }()

	lines := newLineReader(src, p.maxLineBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", job.Data.FilePath, err)
		}
		if lines.Truncated() {
			log.Warn("line truncated", "line", acc.TotalLines()+1, "max_bytes", p.maxLineBytes)
		}

		line, perr := parser.Parse(raw)
		var payloadErr *parser.PayloadError
		if errors.As(perr, &payloadErr) {
			log.Warn("invalid json payload", "line", acc.TotalLines()+1, "error", payloadErr.Err)
		}
		acc.Add(line)

		if acc.CheckpointDue() {
			p.metrics.addLines(acc.TotalLines() - reported)
			reported = acc.TotalLines()
			p.checkpoint(ctx, job, acc, log)
		}
	}
}

func (p *Processor) checkpoint(ctx context.Context, job *queue.Job, acc *stats.Accumulator, log *slog.Logger) {
	p.metrics.checkpoint()
	if p.reporter == nil {
		return
	}
	if err := p.reporter.Report(ctx, job, acc.Snapshot()); err != nil {
		log.Warn("progress report failed", "total_lines", acc.TotalLines(), "error", err)
	}
}

func (p *Processor) fail(ctx context.Context, job *queue.Job, log *slog.Logger, cause error) (domain.LogStats, error) {
	p.transition(job, StateFailed)
	if errors.Is(cause, context.Canceled) {
		log.Warn("processing interrupted", "error", cause)
		return domain.LogStats{}, cause
	}
	log.Error("error processing file", "error", cause)
	record := domain.FailureRecord(job.Data.FileID, job.ID, p.now())
	if err := p.repo.UpsertStats(context.WithoutCancel(ctx), record); err != nil {
		log.Error("failed to record failure", "error", err)
	}
	return record, cause
}
