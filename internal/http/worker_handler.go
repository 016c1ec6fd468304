package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SalmanGits/Log-bull/internal/service/ingest"
)

// WorkerPool reports per-worker state.
type WorkerPool interface {
	Workers() []ingest.WorkerStatus
}

// NewWorkerHandler serves the worker's /healthz, /metrics and /workers endpoints.
func NewWorkerHandler(pool WorkerPool, checks map[string]func(context.Context) error, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_http")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		code, payload := checkHealth(req.Context(), checks)
		if code != http.StatusOK {
			logger.Warn("worker unhealthy", "components", payload["components"])
		}
		writeJSON(w, code, payload)
	})
	mux.HandleFunc("/workers", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workers": pool.Workers()})
	})
	return mux
}
