package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
)

func TestSubmitSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		var in SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.FilePath != "/var/log/a.log" || in.FileSize != nil {
			t.Errorf("unexpected request %+v (%v)", in, err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-1","file_id":"f-1","priority":4,"state":"waiting"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithToken(" tok "))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := c.Submit(context.Background(), SubmitRequest{FilePath: "/var/log/a.log"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.JobID != "job-1" || out.Priority != 4 || out.State != queue.StateWaiting {
		t.Fatalf("unexpected response %+v", out)
	}

	anon, _ := New(srv.URL)
	_, err = anon.Submit(context.Background(), SubmitRequest{FilePath: "/var/log/a.log"})
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "authentication required" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestWatchProgressParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("job_id") != "job-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, n := range []int{1000, 2000} {
			fmt.Fprintf(w, "event: progress\ndata: {\"job_id\":\"job-1\",\"stats\":{\"total_lines\":%d}}\n\n", n)
		}
		fmt.Fprint(w, ": ping\n\n")
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	var got []domain.Progress
	if err := c.WatchProgress(context.Background(), "job-1", func(p domain.Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(got) != 2 || got[0].Stats.TotalLines != 1000 || got[1].Stats.TotalLines != 2000 {
		t.Fatalf("unexpected progress %+v", got)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("localhost:4000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}
