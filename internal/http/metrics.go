package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

func (r *Router) initMetrics() {
	r.requestTotal = registerCollector(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbull",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"}))
	r.requestLatency = registerCollector(r.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logbull",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   latencyBuckets,
	}, []string{"method", "route", "status"}))
	r.rateLimitHits = registerCollector(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbull",
		Subsystem: "api",
		Name:      "rate_limit_hits_total",
		Help:      "Submissions rejected by the rate limiter",
	}, []string{"route", "key"}))
	r.submissions = registerCollector(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbull",
		Subsystem: "api",
		Name:      "submissions_total",
		Help:      "File submissions by outcome",
	}, []string{"outcome"}))
}

// registerCollector registers c, returning the collector already registered under the
// same descriptor when there is one.
func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordSubmission(outcome string) {
	r.submissions.WithLabelValues(outcome).Inc()
}
