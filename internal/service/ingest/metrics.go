package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var jobDurationBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900}

// Metrics are the worker's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobs        *prometheus.CounterVec
	lines       prometheus.Counter
	checkpoints prometheus.Counter
	duration    prometheus.Histogram
}

// NewMetrics registers the worker collectors on reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logbull",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Processed jobs by outcome",
		}, []string{"outcome"}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logbull",
			Subsystem: "worker",
			Name:      "lines_processed_total",
			Help:      "Log lines read from ingested files",
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logbull",
			Subsystem: "worker",
			Name:      "checkpoints_total",
			Help:      "Progress checkpoints emitted",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logbull",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent processing one job attempt",
			Buckets:   jobDurationBuckets,
		}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.jobs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.jobs = existing
			}
		}
	}
	for _, c := range []*prometheus.Counter{&m.lines, &m.checkpoints} {
		if err := reg.Register(*c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					*c = existing
				}
			}
		}
	}
	if err := reg.Register(m.duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				m.duration = existing
			}
		}
	}
	return m
}

func (m *Metrics) observeJob(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) addLines(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.lines.Add(float64(n))
}

func (m *Metrics) checkpoint() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}
