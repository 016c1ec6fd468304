package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/ws"
)

const defaultMaxTracked = 1024

// Source delivers published progress until ctx is cancelled.
type Source interface {
	SubscribeProgress(ctx context.Context, fn func(jobID string, payload []byte)) error
}

type entry struct {
	progress domain.Progress
	raw      []byte
	seen     time.Time
}

// Service relays progress from the broker to hub subscribers and remembers the most
// recent checkpoint of each job it has seen.
type Service struct {
	source     Source
	hub        *ws.Hub
	logger     *slog.Logger
	maxTracked int
	now        func() time.Time

	mu     sync.RWMutex
	latest map[string]entry
}

// NewService constructs a Service. A nil hub gets a private one.
func NewService(source Source, hub *ws.Hub, logger *slog.Logger) *Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:     source,
		hub:        hub,
		logger:     logger.With("component", "progress"),
		maxTracked: defaultMaxTracked,
		now:        time.Now,
		latest:     make(map[string]entry),
	}
}

// Hub exposes the hub streams register with.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

// Run subscribes to the broker and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("progress relay started")
	defer s.logger.Info("progress relay stopped")
	return s.source.SubscribeProgress(ctx, s.Publish)
}

// Publish records payload as the latest progress for jobID and broadcasts it.
func (s *Service) Publish(jobID string, payload []byte) {
	var p domain.Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Warn("discarding malformed progress", "job_id", jobID, "error", err)
		return
	}
	if p.JobID == "" {
		p.JobID = jobID
	}
	raw := append([]byte(nil), payload...)

	s.mu.Lock()
	prev, ok := s.latest[jobID]
	if ok && prev.progress.Stats.TotalLines > p.Stats.TotalLines {
		// A redelivered job restarts from the first line.
		s.logger.Debug("progress restarted", "job_id", jobID, "previous_lines", prev.progress.Stats.TotalLines)
	}
	s.latest[jobID] = entry{progress: p, raw: raw, seen: s.now()}
	s.evictLocked()
	s.mu.Unlock()

	s.hub.Broadcast(jobID, raw)
}

// Latest returns the last checkpoint seen for jobID.
func (s *Service) Latest(jobID string) (domain.Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.latest[jobID]
	return e.progress, ok
}

// LatestRaw returns the last checkpoint for jobID exactly as published.
func (s *Service) LatestRaw(jobID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.latest[jobID]
	return e.raw, ok
}

func (s *Service) evictLocked() {
	for len(s.latest) > s.maxTracked {
		var oldestID string
		var oldest time.Time
		for id, e := range s.latest {
			if oldestID == "" || e.seen.Before(oldest) {
				oldestID, oldest = id, e.seen
			}
		}
		delete(s.latest, oldestID)
	}
}
