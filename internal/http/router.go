package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/repository"
	"github.com/SalmanGits/Log-bull/internal/service/submit"
	"github.com/SalmanGits/Log-bull/internal/ws"
)

const (
	healthCheckTimeout   = 2 * time.Second
	sseHeartbeatInterval = 15 * time.Second
	wsPingInterval       = 30 * time.Second
	submitWindow         = time.Minute
	maxSubmitBody        = 64 << 10
)

// Submitter enqueues files for ingestion.
type Submitter interface {
	Submit(ctx context.Context, fileID, filePath string, fileSize int64) (*queue.Job, error)
	SubmitPath(ctx context.Context, fileID, filePath string) (*queue.Job, error)
}

// JobReader exposes queue state.
type JobReader interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	Counts(ctx context.Context) (map[queue.State]int64, error)
}

// StatsReader loads persisted aggregates.
type StatsReader interface {
	GetStats(ctx context.Context, fileID string) (*domain.LogStats, error)
}

// ProgressFeed provides live and last-known checkpoints.
type ProgressFeed interface {
	Hub() *ws.Hub
	LatestRaw(jobID string) ([]byte, bool)
}

// Options wires the router's collaborators.
type Options struct {
	Submit       Submitter
	Jobs         JobReader
	Stats        StatsReader
	Progress     ProgressFeed
	HealthChecks map[string]func(context.Context) error
	APIToken     string
	Limiter      RateLimiter
	SubmitLimit  int
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	submit       Submitter
	jobs         JobReader
	stats        StatsReader
	progress     ProgressFeed
	shutdown     chan struct{}
	closeOnce    sync.Once
	healthChecks map[string]func(context.Context) error
	apiToken     string
	limiter      RateLimiter
	submitLimit  int
	upgrader     websocket.Upgrader

	registerer     prometheus.Registerer
	gatherer       prometheus.Gatherer
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	submissions    *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "http"),
		submit:       opts.Submit,
		jobs:         opts.Jobs,
		stats:        opts.Stats,
		progress:     opts.Progress,
		shutdown:     make(chan struct{}),
		healthChecks: opts.HealthChecks,
		apiToken:     strings.TrimSpace(opts.APIToken),
		limiter:      opts.Limiter,
		submitLimit:  opts.SubmitLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registerer: opts.Registerer,
		gatherer:   opts.Gatherer,
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close ends open progress streams and releases background resources. It is safe to
// call more than once and is meant to run from http.Server.RegisterOnShutdown.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.shutdown)
		if r.limiter != nil {
			r.limiter.Close()
		}
	})
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/jobs", r.audit("/jobs", r.requireToken(r.withRateLimit("/jobs", r.submitLimit, submitWindow, r.handleJobs))))
	r.mux.HandleFunc("/jobs/", r.audit("/jobs/{id}", r.requireToken(r.handleJob)))
	r.mux.HandleFunc("/queue", r.audit("/queue", r.requireToken(r.handleQueue)))
	r.mux.HandleFunc("/stats/", r.audit("/stats/{file_id}", r.requireToken(r.handleStats)))
	r.mux.HandleFunc("/ws/progress", r.audit("/ws/progress", r.requireToken(r.handleProgressWS)))
	r.mux.HandleFunc("/sse/progress", r.audit("/sse/progress", r.requireToken(r.handleProgressSSE)))
}

type submitRequest struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize *int64 `json:"file_size"`
}

func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSubmitBody)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.FileID) == "" {
		payload.FileID = uuid.NewString()
	}

	var (
		job *queue.Job
		err error
	)
	if payload.FileSize != nil {
		job, err = r.submit.Submit(req.Context(), payload.FileID, payload.FilePath, *payload.FileSize)
	} else {
		job, err = r.submit.SubmitPath(req.Context(), payload.FileID, payload.FilePath)
	}
	switch {
	case errors.Is(err, submit.ErrInvalidRequest):
		r.recordSubmission("rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		r.recordSubmission("error")
		r.logger.Error("submit failed", "file_id", payload.FileID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	r.recordSubmission("accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"file_id":   job.Data.FileID,
		"file_size": job.Data.FileSize,
		"priority":  job.Priority,
		"state":     job.State,
	})
}

func (r *Router) handleJob(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/jobs/"), "/")
	if id == "" {
		r.notFound(w)
		return
	}
	job, err := r.jobs.Get(req.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		r.logger.Error("load job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (r *Router) handleQueue(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	counts, err := r.jobs.Counts(req.Context())
	if err != nil {
		r.logger.Error("count jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	fileID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/stats/"), "/")
	if fileID == "" {
		r.notFound(w)
		return
	}
	stats, err := r.stats.GetStats(req.Context(), fileID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "stats not found")
		return
	case err != nil:
		r.logger.Error("load stats failed", "file_id", fileID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleProgressWS(w http.ResponseWriter, req *http.Request) {
	jobID := strings.TrimSpace(req.URL.Query().Get("job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if raw, ok := r.progress.LatestRaw(jobID); ok {
		if err := client.Send(raw); err != nil {
			return
		}
	}
	hub := r.progress.Hub()
	hub.Register(jobID, client)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-r.shutdown:
				client.Close()
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer func() {
			close(done)
			hub.Unregister(jobID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleProgressSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	jobID := strings.TrimSpace(req.URL.Query().Get("job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "progress", r.logger)
	if raw, ok := r.progress.LatestRaw(jobID); ok {
		if err := client.Send(raw); err != nil {
			return
		}
	}
	hub := r.progress.Hub()
	hub.Register(jobID, client)
	defer func() {
		hub.Unregister(jobID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	code, payload := checkHealth(req.Context(), r.healthChecks)
	writeJSON(w, code, payload)
}

func checkHealth(ctx context.Context, checks map[string]func(context.Context) error) (int, map[string]any) {
	components := make(map[string]any)
	status := "ok"
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return code, payload
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
