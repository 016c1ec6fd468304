// Package parser turns raw log lines of the form
//
//	[timestamp] LEVEL message {optional json block}
//
// into structured records.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

var linePattern = regexp.MustCompile(`^\[(.*?)\]\s+(\w+)\s+(.*?)(?:\s+(\{.*\}))?$`)

// Line is a successfully matched log line.
type Line struct {
	Timestamp string
	Level     string
	Message   string
	Payload   *Payload
}

// Payload is the structured block trailing a message.
type Payload struct {
	// IP is populated when the block carries a truthy "ip" field. Strings are used as
	// is; numbers, true and non-empty containers keep their JSON text.
	IP     string
	Fields map[string]json.RawMessage
}

// PayloadError reports a trailing block that was not a valid JSON object.
// The line itself is still returned.
type PayloadError struct {
	Raw string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("decode payload %q: %v", e.Raw, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Parse matches a single line. It returns (nil, nil) when the line does not follow
// the bracketed-timestamp format. A malformed payload yields the line without a
// payload together with a *PayloadError.
func Parse(raw string) (*Line, error) {
	m := linePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, nil
	}
	line := &Line{
		Timestamp: m[1],
		Level:     m[2],
		Message:   m[3],
	}
	if m[4] == "" {
		return line, nil
	}
	payload, err := decodePayload(m[4])
	if err != nil {
		return line, &PayloadError{Raw: m[4], Err: err}
	}
	line.Payload = payload
	return line, nil
}

func decodePayload(block string) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(block), &fields); err != nil {
		return nil, err
	}
	p := &Payload{Fields: fields}
	if raw, ok := fields["ip"]; ok {
		p.IP = ipValue(raw)
	}
	return p, nil
}

// ipValue returns the key an "ip" field is counted under, or "" for falsy values
// (null, false, 0, "").
func ipValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
	case bool:
		if !t {
			return ""
		}
	case nil:
		return ""
	}
	return string(bytes.TrimSpace(raw))
}
