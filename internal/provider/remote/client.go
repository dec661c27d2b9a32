// Package remote implements provider.Client against a hosted deployment API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/previewd/internal/buildprofile"
	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/provider"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096
)

// Client talks to a Vercel-style deployments API.
type Client struct {
	baseURL    string
	token      string
	teamID     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Client = (*Client)(nil)

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

// WithTeamID scopes every request to a team.
func WithTeamID(teamID string) Option {
	return func(c *Client) {
		c.teamID = strings.TrimSpace(teamID)
	}
}

// WithLogger sets the logger used for best-effort operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a Client for the API at baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("deployment api base url required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid deployment api url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type fileEntry struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type projectSettings struct {
	Framework       *string `json:"framework"`
	InstallCommand  *string `json:"installCommand,omitempty"`
	BuildCommand    *string `json:"buildCommand,omitempty"`
	OutputDirectory *string `json:"outputDirectory,omitempty"`
}

type createRequest struct {
	Name            string            `json:"name"`
	Files           []fileEntry       `json:"files"`
	ProjectSettings projectSettings   `json:"projectSettings"`
	Target          string            `json:"target"`
	Meta            map[string]string `json:"meta,omitempty"`
}

type deploymentResponse struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ReadyState   string `json:"readyState"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

type eventResponse struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Payload struct {
		Text string `json:"text"`
	} `json:"payload"`
}

// Create uploads files and starts a preview build.
func (c *Client) Create(ctx context.Context, files domain.FileSet, settings provider.Settings) (provider.Deployment, error) {
	if err := files.Validate(); err != nil {
		return provider.Deployment{}, err
	}
	profile := provider.ResolveProfile(files, settings)
	body := createRequest{
		Name:            provider.DeploymentName(settings),
		Files:           make([]fileEntry, 0, files.Len()),
		ProjectSettings: settingsFor(profile),
		Target:          "preview",
	}
	if settings.ProjectID != "" {
		body.Meta = map[string]string{"projectId": settings.ProjectID}
	}
	for _, f := range files.Files() {
		body.Files = append(body.Files, fileEntry{File: strings.TrimLeft(f.Path, "/"), Data: f.Content})
	}

	var resp deploymentResponse
	if err := c.do(ctx, http.MethodPost, "/v13/deployments", nil, body, &resp); err != nil {
		return provider.Deployment{}, fmt.Errorf("create deployment: %w", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return provider.Deployment{}, fmt.Errorf("%w: create response missing deployment id", domain.ErrProviderUnavailable)
	}
	return provider.Deployment{ID: resp.ID, URL: normalizeURL(resp.URL), Profile: profile}, nil
}

// Poll reads the current deployment state.
func (c *Client) Poll(ctx context.Context, id string) (provider.Status, error) {
	var resp deploymentResponse
	if err := c.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return provider.Status{}, fmt.Errorf("poll deployment: %w", err)
	}
	state := resp.ReadyState
	if state == "" {
		state = resp.Status
	}
	msg := strings.TrimSpace(resp.ErrorMessage)
	if msg == "" && resp.ErrorCode != "" {
		msg = resp.ErrorCode
	}
	return provider.Status{
		State:        mapReadyState(state),
		URL:          normalizeURL(resp.URL),
		ErrorMessage: msg,
	}, nil
}

// FetchLogs returns the build output, or "" when it cannot be retrieved.
func (c *Client) FetchLogs(ctx context.Context, id string) string {
	query := url.Values{"builds": {"1"}, "limit": {"-1"}}
	var events []eventResponse
	if err := c.do(ctx, http.MethodGet, "/v3/deployments/"+url.PathEscape(id)+"/events", query, nil, &events); err != nil {
		c.logger.Warn("fetch deployment logs failed", "deployment_id", id, "error", err)
		return ""
	}
	var b strings.Builder
	for _, ev := range events {
		text := ev.Text
		if text == "" {
			text = ev.Payload.Text
		}
		text = strings.TrimRight(text, "\r\n")
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return provider.TailLogs(b.String(), provider.MaxLogBytes)
}

// Delete removes the deployment; false means the attempt failed.
func (c *Client) Delete(ctx context.Context, id string) bool {
	err := c.do(ctx, http.MethodDelete, "/v13/deployments/"+url.PathEscape(id), nil, nil, nil)
	if err != nil {
		var apiErr APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return true
		}
		c.logger.Warn("delete deployment failed", "deployment_id", id, "error", err)
		return false
	}
	return true
}

func settingsFor(p buildprofile.Profile) projectSettings {
	var s projectSettings
	switch p.Framework {
	case buildprofile.FrameworkStatic, buildprofile.FrameworkNode, buildprofile.FrameworkGo, buildprofile.FrameworkDocker, "":
	default:
		fw := string(p.Framework)
		s.Framework = &fw
	}
	if v := strings.TrimSpace(p.InstallCommand); v != "" {
		s.InstallCommand = &v
	}
	if v := strings.TrimSpace(p.BuildCommand); v != "" {
		s.BuildCommand = &v
	}
	if v := strings.TrimSpace(p.OutputDirectory); v != "" && v != "." {
		s.OutputDirectory = &v
	}
	return s
}

func mapReadyState(state string) domain.DeploymentStatus {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "READY":
		return domain.DeploymentReady
	case "ERROR", "CANCELED", "CANCELLED":
		return domain.DeploymentError
	case "BUILDING", "DEPLOYING":
		return domain.DeploymentBuilding
	default:
		return domain.DeploymentQueued
	}
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// APIError represents an error response from the deployment API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deployment api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("deployment api request failed (%d): %s", e.Status, e.Message)
}

// classified pairs an APIError with its taxonomy sentinel so errors.Is and errors.As both work.
type classified struct {
	kind error
	api  APIError
}

func (e classified) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.api)
}

func (e classified) Unwrap() []error {
	return []error{e.kind, e.api}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, v any) error {
	endpoint := c.baseURL + path
	if c.teamID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("teamId", c.teamID)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request body: %v", domain.ErrInvalidInput, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: request timed out: %v", domain.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := APIError{Status: resp.StatusCode, Message: extractMessage(buf)}
	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		kind = domain.ErrInvalidInput
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		kind = domain.ErrQuotaExceeded
	default:
		kind = domain.ErrProviderUnavailable
	}
	return classified{kind: kind, api: apiErr}
}

func extractMessage(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if code := strings.TrimSpace(payload.Error.Code); code != "" {
			return code
		}
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && strings.TrimSpace(flat.Error) != "" {
		return strings.TrimSpace(flat.Error)
	}
	return strings.TrimSpace(string(data))
}
