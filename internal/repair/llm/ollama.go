package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

// Ollama calls a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
}

func newOllama(cfg Config) (*Ollama, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		client, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return &Ollama{client: client, model: cfg.Model}, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &Ollama{client: ollama.NewClient(u, cfg.HTTPClient), model: cfg.Model}, nil
}

// Complete streams a chat response and returns the concatenated message content.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	req := &ollama.ChatRequest{
		Model:    strings.TrimPrefix(o.model, "ollama:"),
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Options: map[string]any{
			"temperature": 0.1,
			"num_ctx":     contextWindow(prompt),
		},
	}
	var b strings.Builder
	respFunc := func(res ollama.ChatResponse) error {
		b.WriteString(res.Message.Content)
		return nil
	}
	if err := o.client.Chat(ctx, req, respFunc); err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return b.String(), nil
}

// contextWindow sizes num_ctx from a rough four-bytes-per-token estimate.
func contextWindow(prompt string) int {
	n := len(prompt)/4 + 2048
	if n < maxOutputTokens {
		return maxOutputTokens
	}
	return n
}
