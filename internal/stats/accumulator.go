package stats

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/parser"
)

// DefaultCheckpointEvery is the number of lines between progress checkpoints.
const DefaultCheckpointEvery = 1000

// DefaultKeywords are tracked when no keyword list is configured.
var DefaultKeywords = []string{"error", "fail", "exception"}

// ErrFinalized is returned when Finalize is called more than once.
var ErrFinalized = errors.New("stats: accumulator already finalized")

var ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

type keyword struct {
	name  string
	lower string
}

// Accumulator folds parsed lines of a single file into a LogStats aggregate.
// It is owned by one worker and is not safe for concurrent use.
type Accumulator struct {
	stats           domain.LogStats
	keywords        []keyword
	checkpointEvery int64
	finalized       bool
}

// Option customises an Accumulator.
type Option func(*Accumulator)

// WithCheckpointEvery overrides the checkpoint interval. Non-positive values are ignored.
func WithCheckpointEvery(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.checkpointEvery = int64(n)
		}
	}
}

// New constructs an accumulator in the processing state.
func New(fileID, jobID string, keywords []string, startedAt time.Time, opts ...Option) *Accumulator {
	started := startedAt.UTC()
	a := &Accumulator{
		stats: domain.LogStats{
			FileID:    fileID,
			JobID:     jobID,
			Keywords:  make(map[string]int64),
			IPs:       make(map[string]int64),
			StartedAt: &started,
			Status:    domain.StatsProcessing,
		},
		keywords:        normalizeKeywords(keywords),
		checkpointEvery: DefaultCheckpointEvery,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func normalizeKeywords(in []string) []keyword {
	out := make([]keyword, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, keyword{name: k, lower: strings.ToLower(k)})
	}
	if len(out) == 0 && len(in) == 0 {
		return normalizeKeywords(DefaultKeywords)
	}
	return out
}

// Add records one input line. A nil line (unparsable input) only bumps TotalLines.
func (a *Accumulator) Add(line *parser.Line) {
	a.stats.TotalLines++
	if line == nil {
		return
	}

	switch {
	case strings.EqualFold(line.Level, "ERROR"):
		a.stats.ErrorCount++
	case strings.EqualFold(line.Level, "WARNING"), strings.EqualFold(line.Level, "WARN"):
		a.stats.WarningCount++
	}

	if len(a.keywords) > 0 {
		lowerMsg := strings.ToLower(line.Message)
		for _, k := range a.keywords {
			if strings.Contains(lowerMsg, k.lower) {
				a.stats.Keywords[k.name]++
			}
		}
	}

	for _, ip := range ipv4Pattern.FindAllString(line.Message, -1) {
		a.stats.IPs[ip]++
	}
	// Counted in addition to any address found in the message.
	if line.Payload != nil && line.Payload.IP != "" {
		a.stats.IPs[line.Payload.IP]++
	}
}

// TotalLines reports how many lines have been added so far.
func (a *Accumulator) TotalLines() int64 {
	return a.stats.TotalLines
}

// CheckpointDue reports whether the line just added lands on a checkpoint boundary.
func (a *Accumulator) CheckpointDue() bool {
	return a.stats.TotalLines > 0 && a.stats.TotalLines%a.checkpointEvery == 0
}

// Snapshot returns a deep copy of the current aggregate.
func (a *Accumulator) Snapshot() domain.LogStats {
	return copyStats(a.stats)
}

// Finalize marks the aggregate completed and returns the final snapshot.
func (a *Accumulator) Finalize(at time.Time) (domain.LogStats, error) {
	if a.finalized {
		return domain.LogStats{}, ErrFinalized
	}
	a.finalized = true
	completed := at.UTC()
	a.stats.CompletedAt = &completed
	a.stats.Status = domain.StatsCompleted
	return copyStats(a.stats), nil
}

func copyStats(s domain.LogStats) domain.LogStats {
	out := s
	out.Keywords = make(map[string]int64, len(s.Keywords))
	for k, v := range s.Keywords {
		out.Keywords[k] = v
	}
	out.IPs = make(map[string]int64, len(s.IPs))
	for k, v := range s.IPs {
		out.IPs[k] = v
	}
	if s.StartedAt != nil {
		started := *s.StartedAt
		out.StartedAt = &started
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
