package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxEventBytes = 16 << 20

// ErrStreamEnded is returned when a stream closes before its terminal event.
var ErrStreamEnded = errors.New("event stream ended before the session finished")

// VerifyStream runs a verification and calls onEvent for each progress event.
// It returns the result carried by the terminal event.
func (c *Client) VerifyStream(ctx context.Context, token string, input VerifyInput, onEvent func(Event)) (Result, error) {
	input.Async = false
	return c.stream(ctx, http.MethodPost, "/v1/verify/stream", input, token, onEvent)
}

// Follow attaches to a running session's event stream. Events already
// emitted are replayed first.
func (c *Client) Follow(ctx context.Context, token, sessionID string, onEvent func(Event)) (Result, error) {
	path := fmt.Sprintf("/v1/sessions/%s/events", url.PathEscape(sessionID))
	return c.stream(ctx, http.MethodGet, path, nil, token, onEvent)
}

func (c *Client) stream(ctx context.Context, method, path string, body any, token string, onEvent func(Event)) (Result, error) {
	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return Result{}, extractError(resp)
	}

	var terminal *Event
	err = readEvents(resp.Body, func(e Event) bool {
		if onEvent != nil {
			onEvent(e)
		}
		if e.Terminal() {
			terminal = &e
			return false
		}
		return true
	})
	if err != nil {
		return Result{}, err
	}
	if terminal == nil {
		return Result{}, ErrStreamEnded
	}
	if terminal.Result == nil {
		return Result{SessionID: terminal.SessionID, Error: terminal.Message, ErrorKind: "internal"}, nil
	}
	return *terminal.Result, nil
}

// readEvents parses a Server-Sent Events body, calling fn for each data
// frame until fn returns false or the body ends. Comment lines are ignored.
func readEvents(body io.Reader, fn func(Event) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !fn(e) {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
