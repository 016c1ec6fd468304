package ws

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
)

// sseRetryMillis is the reconnect delay suggested to EventSource clients.
const sseRetryMillis = 3000

// SSEClient writes hub payloads as Server-Sent Events. Every frame carries an
// increasing id so a reconnecting browser reports how far it got.
type SSEClient struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	log     *slog.Logger
	event   string
	seq     uint64
	buf     bytes.Buffer
	closed  bool
}

// NewSSEClient wraps an HTTP response. A non-empty event names every data frame.
func NewSSEClient(w io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	return &SSEClient{w: w, flusher: flusher, event: event, log: logger}
}

// Send writes payload as one event. Multi-line payloads become several data lines.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.buf.Reset()
	if c.seq == 0 {
		c.buf.WriteString("retry: " + strconv.Itoa(sseRetryMillis) + "\n")
	}
	c.seq++
	c.buf.WriteString("id: " + strconv.FormatUint(c.seq, 10) + "\n")
	if c.event != "" {
		c.buf.WriteString("event: " + c.event + "\n")
	}
	for _, line := range bytes.Split(bytes.TrimRight(payload, "\n"), []byte("\n")) {
		c.buf.WriteString("data: ")
		c.buf.Write(line)
		c.buf.WriteByte('\n')
	}
	c.buf.WriteByte('\n')
	return c.flushLocked("send")
}

// Heartbeat writes a comment frame so idle proxies keep the stream open.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.buf.Reset()
	c.buf.WriteString(": ping\n\n")
	return c.flushLocked("heartbeat")
}

func (c *SSEClient) flushLocked(op string) error {
	if _, err := c.w.Write(c.buf.Bytes()); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "op", op, "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether the stream stopped accepting writes.
func (c *SSEClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
