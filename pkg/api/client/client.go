// Package client is a typed Go client for the previewd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client provides typed access to the previewd API for interactive tools.
type Client struct {
	baseURL    string
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

// New constructs a Client pointing at the provided API base URL. Requests
// carry no client-side timeout because verifications can run for minutes;
// bound them with the context instead.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4100"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status    int
	Message   string
	ErrorKind string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
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
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(resp *http.Response) APIError {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.ErrorKind = payload.ErrorKind
	return apiErr
}

// Verify deploys files and waits for the definitive result.
func (c *Client) Verify(ctx context.Context, token string, input VerifyInput) (Result, error) {
	input.Async = false
	var result Result
	if err := c.do(ctx, http.MethodPost, "/v1/verify", input, token, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// StartVerify starts a background verification and returns its session id.
func (c *Client) StartVerify(ctx context.Context, token string, input VerifyInput) (string, error) {
	input.Async = true
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/verify", input, token, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// Feedback applies a user-requested change and verifies it once.
func (c *Client) Feedback(ctx context.Context, token string, input FeedbackInput) (FeedbackResult, error) {
	var result FeedbackResult
	if err := c.do(ctx, http.MethodPost, "/v1/feedback", input, token, &result); err != nil {
		return FeedbackResult{}, err
	}
	return result, nil
}

// Session returns the latest state of a session.
func (c *Client) Session(ctx context.Context, token, sessionID string) (Snapshot, error) {
	path := fmt.Sprintf("/v1/sessions/%s", url.PathEscape(sessionID))
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, path, nil, token, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Cancel asks the server to stop a running session.
func (c *Client) Cancel(ctx context.Context, token, sessionID string) error {
	path := fmt.Sprintf("/v1/sessions/%s", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// ListPreviews returns the caller's active previews, newest first.
func (c *Client) ListPreviews(ctx context.Context, token string, includeFiles bool) ([]Preview, error) {
	path := "/v1/previews"
	if includeFiles {
		path += "?include_files=true"
	}
	var previews []Preview
	if err := c.do(ctx, http.MethodGet, path, nil, token, &previews); err != nil {
		return nil, err
	}
	return previews, nil
}
