package parser

import (
	"errors"
	"testing"
)

func TestParseMatchesFixedFormat(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		timestamp string
		level     string
		message   string
		ip        string
		payload   bool
	}{
		{
			name:      "with payload",
			raw:       `[2024-01-01T00:00:00Z] ERROR connection refused {"ip":"192.168.1.5"}`,
			timestamp: "2024-01-01T00:00:00Z",
			level:     "ERROR",
			message:   "connection refused",
			ip:        "192.168.1.5",
			payload:   true,
		},
		{
			name:      "plain message",
			raw:       "[2024-01-01T00:00:01Z] INFO heartbeat ok",
			timestamp: "2024-01-01T00:00:01Z",
			level:     "INFO",
			message:   "heartbeat ok",
		},
		{
			name:      "lowercase level and extra spacing",
			raw:       "[12:00]   warn   disk at 91%",
			timestamp: "12:00",
			level:     "warn",
			message:   "disk at 91%",
		},
		{
			name:      "payload without ip",
			raw:       `[t] DEBUG cache miss {"key":"user:1","hits":0}`,
			timestamp: "t",
			level:     "DEBUG",
			message:   "cache miss",
			payload:   true,
		},
		{
			name:      "non string ip ignored",
			raw:       `[t] INFO odd {"ip":42}`,
			timestamp: "t",
			level:     "INFO",
			message:   "odd",
			payload:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := Parse(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if line == nil {
				t.Fatalf("expected line to match")
			}
			if line.Timestamp != tc.timestamp {
				t.Fatalf("expected timestamp %q, got %q", tc.timestamp, line.Timestamp)
			}
			if line.Level != tc.level {
				t.Fatalf("expected level %q, got %q", tc.level, line.Level)
			}
			if line.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, line.Message)
			}
			if tc.payload != (line.Payload != nil) {
				t.Fatalf("expected payload present=%v, got %+v", tc.payload, line.Payload)
			}
			if line.Payload != nil && line.Payload.IP != tc.ip {
				t.Fatalf("expected payload ip %q, got %q", tc.ip, line.Payload.IP)
			}
		})
	}
}

func TestParseRejectsNonMatchingLines(t *testing.T) {
	for _, raw := range []string{
		"",
		"garbage line with no brackets",
		"[2024-01-01] ERROR",
		"[unterminated ERROR boom",
		"prefix [2024-01-01] ERROR boom",
	} {
		line, err := Parse(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if line != nil {
			t.Fatalf("expected no match for %q, got %+v", raw, line)
		}
	}
}

func TestParseInvalidPayloadDegrades(t *testing.T) {
	line, err := Parse(`[t] ERROR upstream timeout {"ip": 10.0.0.1}`)
	if line == nil {
		t.Fatalf("expected line despite malformed payload")
	}
	if line.Payload != nil {
		t.Fatalf("expected payload to be dropped, got %+v", line.Payload)
	}
	if line.Message != "upstream timeout" {
		t.Fatalf("unexpected message %q", line.Message)
	}
	var perr *PayloadError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PayloadError, got %v", err)
	}
	if perr.Raw != `{"ip": 10.0.0.1}` {
		t.Fatalf("unexpected raw payload %q", perr.Raw)
	}
}

func TestParsePayloadIPAcceptsTruthyValues(t *testing.T) {
	cases := []struct {
		block string
		want  string
	}{
		{block: `{"ip":"10.0.0.7"}`, want: "10.0.0.7"},
		{block: `{"ip":3232235777}`, want: "3232235777"},
		{block: `{"ip":true}`, want: "true"},
		{block: `{"ip":0}`, want: ""},
		{block: `{"ip":""}`, want: ""},
		{block: `{"ip":null}`, want: ""},
		{block: `{"ip":false}`, want: ""},
		{block: `{"user":"bob"}`, want: ""},
	}
	for _, tc := range cases {
		line, err := Parse("[2025-01-01T00:00:00Z] INFO login " + tc.block)
		if err != nil || line == nil || line.Payload == nil {
			t.Fatalf("%s: expected parsed payload, got %+v (%v)", tc.block, line, err)
		}
		if line.Payload.IP != tc.want {
			t.Errorf("%s: expected ip %q, got %q", tc.block, tc.want, line.Payload.IP)
		}
	}
}
