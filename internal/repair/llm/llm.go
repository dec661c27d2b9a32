// Package llm provides text-completion backends for the repair service.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/splax/previewd/internal/repair"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

const (
	maxOutputTokens = 8192
	maxErrorBody    = 2048
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOllama:    "qwen2.5-coder",
}

// Config selects and authenticates a backend.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New returns the completion backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (repair.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModels[provider]
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	switch provider {
	case ProviderOpenAI:
		return newOpenAI(cfg)
	case ProviderAnthropic:
		return newAnthropic(cfg)
	case ProviderGemini:
		return newGemini(ctx, cfg)
	case ProviderOllama:
		return newOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown repair provider %q", cfg.Provider)
	}
}

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.Status, e.Body)
}

func readStatusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
