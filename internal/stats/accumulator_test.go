package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/parser"
)

var started = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) *parser.Line {
	t.Helper()
	line, _ := parser.Parse(raw)
	return line
}

func TestAccumulatorSeverityCounts(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	for _, raw := range []string{
		"[t] ERROR a",
		"[t] error b",
		"[t] WARNING c",
		"[t] Warn d",
		"[t] INFO e",
		"[t] FATAL f",
		"not a log line",
	} {
		acc.Add(mustParse(t, raw))
	}

	s := acc.Snapshot()
	if s.TotalLines != 7 {
		t.Fatalf("expected 7 lines, got %d", s.TotalLines)
	}
	if s.ErrorCount != 2 {
		t.Fatalf("expected 2 errors, got %d", s.ErrorCount)
	}
	if s.WarningCount != 2 {
		t.Fatalf("expected 2 warnings, got %d", s.WarningCount)
	}
	if s.Status != domain.StatsProcessing {
		t.Fatalf("expected processing status, got %s", s.Status)
	}
}

func TestAccumulatorKeywordCountedOncePerLine(t *testing.T) {
	acc := New("file-1", "job-1", []string{"error", "Timeout"}, started)
	acc.Add(mustParse(t, "[t] INFO error then another ERROR here"))
	acc.Add(mustParse(t, "[t] INFO request TIMEOUT after retry error"))
	acc.Add(mustParse(t, "[t] INFO clean line"))

	s := acc.Snapshot()
	if s.Keywords["error"] != 2 {
		t.Fatalf("expected error keyword count 2, got %d", s.Keywords["error"])
	}
	if s.Keywords["Timeout"] != 1 {
		t.Fatalf("expected Timeout keyword count 1, got %d", s.Keywords["Timeout"])
	}
	if len(s.Keywords) != 2 {
		t.Fatalf("unexpected keyword buckets %v", s.Keywords)
	}
}

func TestAccumulatorDefaultKeywords(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	acc.Add(mustParse(t, "[t] ERROR job failed with exception"))

	s := acc.Snapshot()
	if s.Keywords["fail"] != 1 || s.Keywords["exception"] != 1 {
		t.Fatalf("expected default keywords to match, got %v", s.Keywords)
	}
	if _, ok := s.Keywords["error"]; ok {
		t.Fatalf("keyword must match the message, not the level: %v", s.Keywords)
	}
}

func TestAccumulatorIPOccurrences(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	acc.Add(mustParse(t, "[t] INFO req from 10.0.0.1 and 10.0.0.1"))
	acc.Add(mustParse(t, "[t] INFO odd 999.999.999.999 seen"))

	s := acc.Snapshot()
	if s.IPs["10.0.0.1"] != 2 {
		t.Fatalf("expected 2 occurrences, got %d", s.IPs["10.0.0.1"])
	}
	if s.IPs["999.999.999.999"] != 1 {
		t.Fatalf("expected syntactic match to be counted, got %v", s.IPs)
	}
}

func TestAccumulatorPayloadIPIsAdditive(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	acc.Add(mustParse(t, `[t] ERROR denied 10.1.1.1 {"ip":"10.1.1.1"}`))

	s := acc.Snapshot()
	if s.IPs["10.1.1.1"] != 2 {
		t.Fatalf("expected message and payload ip to both count, got %d", s.IPs["10.1.1.1"])
	}
}

func TestAccumulatorUnparsableLineOnlyCountsTotal(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	acc.Add(nil)

	s := acc.Snapshot()
	if s.TotalLines != 1 || s.ErrorCount != 0 || len(s.IPs) != 0 || len(s.Keywords) != 0 {
		t.Fatalf("unexpected stats for unparsable line: %+v", s)
	}
}

func TestAccumulatorCheckpointCadence(t *testing.T) {
	acc := New("file-1", "job-1", nil, started, WithCheckpointEvery(3))
	var due []int64
	for i := 0; i < 10; i++ {
		acc.Add(nil)
		if acc.CheckpointDue() {
			due = append(due, acc.TotalLines())
		}
	}
	expected := []int64{3, 6, 9}
	if len(due) != len(expected) {
		t.Fatalf("expected checkpoints %v, got %v", expected, due)
	}
	for i := range expected {
		if due[i] != expected[i] {
			t.Fatalf("expected checkpoints %v, got %v", expected, due)
		}
	}
}

func TestAccumulatorSnapshotIsIsolated(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	acc.Add(mustParse(t, "[t] ERROR fail from 1.2.3.4"))
	snap := acc.Snapshot()
	acc.Add(mustParse(t, "[t] ERROR fail from 1.2.3.4"))

	if snap.IPs["1.2.3.4"] != 1 || snap.Keywords["fail"] != 1 {
		t.Fatalf("snapshot mutated by later lines: %+v", snap)
	}
}

func TestAccumulatorFinalize(t *testing.T) {
	acc := New("file-1", "job-1", nil, started)
	done := started.Add(time.Minute)

	final, err := acc.Finalize(done)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != domain.StatsCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.CompletedAt == nil || !final.CompletedAt.Equal(done) {
		t.Fatalf("unexpected completed_at %v", final.CompletedAt)
	}
	if final.StartedAt == nil || !final.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at %v", final.StartedAt)
	}
	if _, err := acc.Finalize(done); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}
