package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = 500 * time.Millisecond
	defaultReapInterval = 15 * time.Second
)

// JobProcessor runs a single claimed job.
type JobProcessor interface {
	Process(ctx context.Context, job *queue.Job) (domain.LogStats, error)
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	ReapInterval  time.Duration
	LeaseDuration time.Duration
}

// WorkerStatus describes what one worker is doing.
type WorkerStatus struct {
	Worker int       `json:"worker"`
	State  State     `json:"state"`
	JobID  string    `json:"job_id,omitempty"`
	Since  time.Time `json:"since"`
}

// Pool runs a fixed number of workers, each claiming and processing one job at a time.
type Pool struct {
	queue   queue.Queue
	proc    JobProcessor
	cfg     PoolConfig
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	workers []WorkerStatus
}

// NewPool constructs a Pool.
func NewPool(q queue.Queue, proc JobProcessor, cfg PoolConfig, metrics *Metrics, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:   q,
		proc:    proc,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "worker_pool"),
		now:     time.Now,
		workers: make([]WorkerStatus, cfg.Concurrency),
	}
	start := p.now().UTC()
	for i := range p.workers {
		p.workers[i] = WorkerStatus{Worker: i, State: StateIdle, Since: start}
	}
	if o, ok := proc.(interface {
		Observe(func(jobID string, state State))
	}); ok {
		o.Observe(p.observe)
	}
	return p
}

// Run blocks until ctx is cancelled. Jobs already in flight run to completion first.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency, "lease", p.cfg.LeaseDuration)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.reap(gctx)
		return nil
	})
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

// Workers returns a snapshot of every worker's state.
func (p *Pool) Workers() []WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkerStatus(nil), p.workers...)
}

func (p *Pool) setState(worker int, state State, jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[worker] = WorkerStatus{Worker: worker, State: state, JobID: jobID, Since: p.now().UTC()}
}

func (p *Pool) observe(jobID string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.workers {
		if p.workers[i].JobID == jobID {
			p.workers[i].State = state
			p.workers[i].Since = p.now().UTC()
			return
		}
	}
}

func (p *Pool) work(ctx context.Context, worker int) {
	log := p.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Claim(ctx)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error("claim job failed", "error", err)
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		p.handle(ctx, worker, job, log)
	}
}

func (p *Pool) handle(ctx context.Context, worker int, job *queue.Job, log *slog.Logger) {
	log = log.With("job_id", job.ID, "file_id", job.Data.FileID)
	p.setState(worker, StateClaimed, job.ID)
	defer p.setState(worker, StateIdle, "")

	log.Info("job claimed", "priority", job.Priority, "attempt", job.AttemptsMade+1)
	// Shutdown does not interrupt an attempt; losing the lease does.
	attemptCtx, abandon := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abandon(nil)
	hbCtx, stopHeartbeat := context.WithCancel(attemptCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		p.heartbeat(hbCtx, job, abandon, log)
	}()

	started := p.now()
	_, err := p.proc.Process(attemptCtx, job)
	stopHeartbeat()
	hb.Wait()
	took := p.now().Sub(started)

	finishCtx := context.WithoutCancel(ctx)
	if errors.Is(context.Cause(attemptCtx), queue.ErrLeaseLost) {
		p.metrics.observeJob("lease_lost", took)
		log.Warn("attempt abandoned after losing its lease", "duration", took)
		return
	}

	if err == nil {
		cerr := p.queue.Complete(finishCtx, job)
		switch {
		case errors.Is(cerr, queue.ErrLeaseLost):
			p.metrics.observeJob("lease_lost", took)
			log.Warn("job finished after its lease was lost; result left to the new holder", "duration", took)
			return
		case cerr != nil:
			log.Error("complete job failed", "error", cerr)
		}
		p.metrics.observeJob("completed", took)
		log.Info("job completed", "duration", took)
		return
	}

	retrying, ferr := p.queue.Fail(finishCtx, job, err)
	switch {
	case errors.Is(ferr, queue.ErrLeaseLost):
		p.metrics.observeJob("lease_lost", took)
		log.Warn("job failed after its lease was lost; failure not recorded", "error", err)
		return
	case ferr != nil:
		log.Error("record job failure failed", "error", ferr)
	}
	if retrying {
		p.metrics.observeJob("retried", took)
		log.Warn("job failed, retry scheduled", "attempts", job.AttemptsMade, "max_attempts", job.Options.MaxAttempts, "error", err)
		return
	}
	p.metrics.observeJob("failed", took)
	log.Error("job failed permanently", "attempts", job.AttemptsMade, "error", err)
}

// heartbeat renews the lease every third of its duration. When the lease is lost the
// attempt is cancelled with queue.ErrLeaseLost as the cause.
func (p *Pool) heartbeat(ctx context.Context, job *queue.Job, abandon context.CancelCauseFunc, log *slog.Logger) {
	if p.cfg.LeaseDuration <= 0 {
		return
	}
	interval := p.cfg.LeaseDuration / 3
	if interval <= 0 {
		interval = p.cfg.LeaseDuration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.queue.Extend(ctx, job)
			if errors.Is(err, queue.ErrLeaseLost) {
				log.Warn("job lease lost; abandoning attempt")
				abandon(queue.ErrLeaseLost)
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Warn("extend lease failed", "error", err)
			}
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		if _, err := p.queue.RequeueExpired(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("requeue expired jobs failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
