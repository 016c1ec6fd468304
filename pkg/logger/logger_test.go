package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "worker", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("job completed", "job_id", "j-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a single json record, got %q: %v", buf.String(), err)
	}
	if record["service"] != "worker" || record["job_id"] != "j-1" || record["msg"] != "job completed" {
		t.Fatalf("unexpected record %v", record)
	}
}
