package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/internal/repository"
	"github.com/SalmanGits/Log-bull/internal/service/submit"
	"github.com/SalmanGits/Log-bull/internal/ws"
	"github.com/SalmanGits/Log-bull/pkg/logger"
)

type submitStub struct {
	mu    sync.Mutex
	calls []string
}

func (s *submitStub) Submit(_ context.Context, fileID, filePath string, fileSize int64) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filePath == "" {
		return nil, fmt.Errorf("%w: file_path is required", submit.ErrInvalidRequest)
	}
	s.calls = append(s.calls, fmt.Sprintf("submit:%s:%d", fileID, fileSize))
	return &queue.Job{ID: "job-1", Data: queue.Data{FileID: fileID, FilePath: filePath, FileSize: fileSize}, Priority: 7, State: queue.StateWaiting}, nil
}

func (s *submitStub) SubmitPath(ctx context.Context, fileID, filePath string) (*queue.Job, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "stat:"+filePath)
	s.mu.Unlock()
	return s.Submit(ctx, fileID, filePath, 4096)
}

type jobsStub struct {
	jobs   map[string]*queue.Job
	counts map[queue.State]int64
}

func (s *jobsStub) Get(_ context.Context, id string) (*queue.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return job, nil
}

func (s *jobsStub) Counts(context.Context) (map[queue.State]int64, error) {
	return s.counts, nil
}

type statsStub struct {
	stats map[string]domain.LogStats
}

func (s *statsStub) GetStats(_ context.Context, fileID string) (*domain.LogStats, error) {
	st, ok := s.stats[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

type progressStub struct {
	hub    *ws.Hub
	latest map[string][]byte
}

func (p *progressStub) Hub() *ws.Hub { return p.hub }

func (p *progressStub) LatestRaw(jobID string) ([]byte, bool) {
	raw, ok := p.latest[jobID]
	return raw, ok
}

type routerFixture struct {
	router   *Router
	submit   *submitStub
	progress *progressStub
}

func newRouterFixture(t *testing.T, mutate func(*Options)) *routerFixture {
	t.Helper()
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	f := &routerFixture{
		submit:   &submitStub{},
		progress: &progressStub{hub: hub, latest: map[string][]byte{"job-1": []byte(`{"job_id":"job-1","stats":{"total_lines":1000}}`)}},
	}
	reg := prometheus.NewRegistry()
	opts := Options{
		Submit: f.submit,
		Jobs: &jobsStub{
			jobs:   map[string]*queue.Job{"job-1": {ID: "job-1", Priority: 3, State: queue.StateActive, AttemptsMade: 1}},
			counts: map[queue.State]int64{queue.StateWaiting: 2, queue.StateActive: 1},
		},
		Stats: &statsStub{stats: map[string]domain.LogStats{
			"file-1": {FileID: "file-1", TotalLines: 3, ErrorCount: 1, Status: domain.StatsCompleted},
		}},
		Progress:   f.progress,
		Registerer: reg,
		Gatherer:   reg,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.router = NewRouter(logger.Discard(), opts)
	t.Cleanup(f.router.Close)
	return f
}

func (f *routerFixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSubmitJobWithExplicitSize(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodPost, "/jobs", `{"file_id":"file-1","file_path":"/var/log/a.log","file_size":1024}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["job_id"] != "job-1" || body["priority"] != float64(7) || body["state"] != "waiting" {
		t.Fatalf("unexpected response %v", body)
	}
	if got := f.submit.calls; len(got) != 1 || got[0] != "submit:file-1:1024" {
		t.Fatalf("unexpected submit calls %v", got)
	}
}

func TestSubmitJobStatsFileWhenSizeOmitted(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodPost, "/jobs", `{"file_path":"/var/log/b.log"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.submit.calls; len(got) != 2 || got[0] != "stat:/var/log/b.log" {
		t.Fatalf("expected path submission, got %v", got)
	}
	if id, _ := decodeBody(t, rec)["file_id"].(string); id == "" {
		t.Fatal("expected a generated file id")
	}
}

func TestSubmitJobRejectsBadInput(t *testing.T) {
	f := newRouterFixture(t, nil)
	if rec := f.do(http.MethodPost, "/jobs", `{not json`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/jobs", `{"file_id":"f","file_size":1}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing path, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/jobs", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGetJobQueueAndStats(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(http.MethodGet, "/jobs/job-1", "", nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["state"] != "active" {
		t.Fatalf("unexpected job response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodGet, "/jobs/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/queue", "", nil)
	counts, _ := decodeBody(t, rec)["counts"].(map[string]any)
	if rec.Code != http.StatusOK || counts["waiting"] != float64(2) || counts["active"] != float64(1) {
		t.Fatalf("unexpected queue response %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/stats/file-1", "", nil)
	body := decodeBody(t, rec)
	if rec.Code != http.StatusOK || body["total_lines"] != float64(3) || body["status"] != "completed" {
		t.Fatalf("unexpected stats response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodGet, "/stats/unknown", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown stats, got %d", rec.Code)
	}
}

func TestAPITokenRequired(t *testing.T) {
	f := newRouterFixture(t, func(o *Options) { o.APIToken = "s3cret" })

	if rec := f.do(http.MethodGet, "/queue", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/queue", "", map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/queue", "", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}
}

func TestHealthzReportsDegradedComponents(t *testing.T) {
	f := newRouterFixture(t, func(o *Options) {
		o.HealthChecks = map[string]func(context.Context) error{
			"stats_store": func(context.Context) error { return nil },
			"redis":       func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	components := body["components"].(map[string]any)
	if body["status"] != "degraded" || components["redis"].(map[string]any)["status"] != "down" {
		t.Fatalf("unexpected health payload %v", body)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newRouterFixture(t, func(o *Options) { o.SubmitLimit = 2 })
	payload := `{"file_id":"f","file_path":"/tmp/a.log","file_size":1}`
	for i := 0; i < 2; i++ {
		if rec := f.do(http.MethodPost, "/jobs", payload, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, rec.Code)
		}
	}
	rec := f.do(http.MethodPost, "/jobs", payload, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected 429, got %d (%v)", rec.Code, rec.Header())
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.do(http.MethodGet, "/queue", "", nil)
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `logbull_api_http_requests_total{method="GET",route="/queue",status="200"} 1`) {
		t.Fatalf("unexpected metrics output: %s", rec.Body.String())
	}
}

func TestProgressSSEStreamsLatestAndLiveUpdates(t *testing.T) {
	f := newRouterFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/progress?job_id=job-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	nextData := func() string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, "data: ") {
					return strings.TrimPrefix(line, "data: ")
				}
			case <-timeout:
				t.Fatal("no data frame received")
			}
		}
	}

	if got := nextData(); !strings.Contains(got, `"total_lines":1000`) {
		t.Fatalf("expected latest checkpoint first, got %s", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.progress.hub.Subscribers("job-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.progress.hub.Broadcast("job-1", []byte(`{"job_id":"job-1","stats":{"total_lines":2000}}`))
	if got := nextData(); !strings.Contains(got, `"total_lines":2000`) {
		t.Fatalf("expected live checkpoint, got %s", got)
	}
}

func TestProgressWebsocketStreamsLatest(t *testing.T) {
	f := newRouterFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress?job_id=job-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(msg, []byte(`"total_lines":1000`)) {
		t.Fatalf("unexpected first message %s", msg)
	}

	if rec := f.do(http.MethodGet, "/ws/progress", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without job_id, got %d", rec.Code)
	}
}

func TestSubmissionOutcomesAreCounted(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.do(http.MethodPost, "/jobs", `{"file_id":"f","file_path":"/tmp/a.log","file_size":1}`, nil)
	f.do(http.MethodPost, "/jobs", `not json`, nil)
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `logbull_api_submissions_total{outcome="accepted"} 1`) {
		t.Fatalf("expected accepted submission counter, got:\n%s", rec.Body.String())
	}
}

func TestMemoryRateLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	rl := &memoryRateLimiter{windows: make(map[string]window), now: func() time.Time { return now }}

	if q := rl.Allow("k", 1, time.Minute); !q.allowed || q.remaining(1) != 0 {
		t.Fatalf("unexpected first quota %+v", q)
	}
	if q := rl.Allow("k", 1, time.Minute); q.allowed {
		t.Fatal("expected second call in window to be rejected")
	}
	now = now.Add(61 * time.Second)
	if q := rl.Allow("k", 1, time.Minute); !q.allowed || q.used != 1 {
		t.Fatalf("expected fresh window, got %+v", q)
	}
}

func TestRouterCloseEndsProgressStreams(t *testing.T) {
	f := newRouterFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sse/progress?job_id=job-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	ended := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(ended)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.progress.hub.Subscribers("job-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.router.Close()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after the router was closed")
	}
	if n := f.progress.hub.Subscribers("job-1"); n != 0 {
		t.Fatalf("expected stream unregistered, got %d subscribers", n)
	}
}
