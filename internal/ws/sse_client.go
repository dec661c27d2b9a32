package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/splax/previewd/internal/preview"
)

// SSEStream writes a session's events as Server-Sent Events. Each frame is
// named after the event type. The stream is sealed once a terminal event has
// been written, so a client sees at most one complete or error frame.
type SSEStream struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	sealed  bool
	written int
}

// NewSSEStream wraps an HTTP response that already carries SSE headers.
func NewSSEStream(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEStream {
	return &SSEStream{writer: writer, flusher: flusher, log: logger}
}

// WriteEvent emits e as a named frame.
func (s *SSEStream) WriteEvent(e preview.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frame("event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
		return err
	}
	if e.Terminal() {
		s.sealed = true
	}
	return nil
}

// Send emits an unnamed frame with a pre-encoded payload.
func (s *SSEStream) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame("data: %s\n\n", payload)
}

// Heartbeat emits a comment frame to keep intermediaries from timing out.
func (s *SSEStream) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return io.EOF
	}
	if _, err := fmt.Fprint(s.writer, ": ping\n\n"); err != nil {
		s.sealed = true
		s.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close seals the stream.
func (s *SSEStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Written reports how many event frames reached the client.
func (s *SSEStream) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *SSEStream) frame(format string, args ...any) error {
	if s.sealed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(s.writer, format, args...); err != nil {
		s.sealed = true
		s.log.Warn("sse write failed", "error", err)
		return err
	}
	s.flusher.Flush()
	s.written++
	return nil
}
