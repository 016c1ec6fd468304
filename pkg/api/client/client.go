package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
)

// Client provides typed access to the logbull operator API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// SubmitRequest describes a file to ingest. A nil FileSize lets the server stat the file.
type SubmitRequest struct {
	FileID   string `json:"file_id,omitempty"`
	FilePath string `json:"file_path"`
	FileSize *int64 `json:"file_size,omitempty"`
}

// SubmitResponse is returned once the job is queued.
type SubmitResponse struct {
	JobID    string      `json:"job_id"`
	FileID   string      `json:"file_id"`
	FileSize int64       `json:"file_size"`
	Priority int         `json:"priority"`
	State    queue.State `json:"state"`
}

// Submit queues a file for ingestion.
func (c *Client) Submit(ctx context.Context, in SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/jobs", in, &out)
	return out, err
}

// Job fetches a job by id.
func (c *Client) Job(ctx context.Context, id string) (queue.Job, error) {
	var out queue.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Queue returns job counts per state.
func (c *Client) Queue(ctx context.Context) (map[queue.State]int64, error) {
	var out struct {
		Counts map[queue.State]int64 `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "/queue", nil, &out)
	return out.Counts, err
}

// Stats fetches the stored aggregate for a file.
func (c *Client) Stats(ctx context.Context, fileID string) (domain.LogStats, error) {
	var out domain.LogStats
	err := c.do(ctx, http.MethodGet, "/stats/"+url.PathEscape(fileID), nil, &out)
	return out, err
}

// WatchProgress streams checkpoints for jobID to fn until ctx is cancelled or the
// server closes the stream.
func (c *Client) WatchProgress(ctx context.Context, jobID string, fn func(domain.Progress)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/sse/progress?job_id="+url.QueryEscape(jobID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	stream := *c.httpClient
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("open progress stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			if rest, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(rest, " "))
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		var p domain.Progress
		err := json.Unmarshal([]byte(strings.Join(data, "\n")), &p)
		data = data[:0]
		if err != nil {
			continue
		}
		fn(p)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read progress stream: %w", err)
	}
	return nil
}
