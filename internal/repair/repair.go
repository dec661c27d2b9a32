// Package repair asks a text-completion model to fix a file set and reconciles its answer.
package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/reconcile"
)

const (
	defaultTimeout         = 120 * time.Second
	defaultCircuitFailures = 3
	defaultCircuitCooldown = 2 * time.Minute
)

var (
	// ErrCircuitOpen is returned while repair calls are short-circuited after repeated model failures.
	ErrCircuitOpen = errors.New("repair circuit open")
	// ErrEmptyResponse indicates the model returned no text at all.
	ErrEmptyResponse = errors.New("repair model returned an empty response")
)

// Client is a batch text-completion backend.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config tunes the repair service.
type Config struct {
	Timeout     time.Duration
	MaxFailures int
	Cooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultCircuitFailures
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCircuitCooldown
	}
	return c
}

// Service produces FixAttempts for build failures and user feedback.
type Service struct {
	client Client
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewService builds a repair service with circuit-breaking around client.
func NewService(client Client, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		client: client,
		config: config.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// RepairFromBuildFailure asks for a fix given build logs or an error message.
func (s *Service) RepairFromBuildFailure(ctx context.Context, files domain.FileSet, signal string) (domain.FixAttempt, domain.FileSet, error) {
	prompt := buildFailurePrompt(files, signal)
	return s.repair(ctx, files, domain.SignalBuildFailure, signal, prompt)
}

// RepairFromUserFeedback asks for a change described in free text. contextURL,
// when set, is the preview the user was looking at.
func (s *Service) RepairFromUserFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string) (domain.FixAttempt, domain.FileSet, error) {
	if strings.TrimSpace(feedback) == "" {
		return domain.FixAttempt{}, files, fmt.Errorf("%w: feedback text required", domain.ErrInvalidInput)
	}
	prompt := buildFeedbackPrompt(files, feedback, contextURL)
	return s.repair(ctx, files, domain.SignalUserFeedback, feedback, prompt)
}

func (s *Service) repair(ctx context.Context, files domain.FileSet, kind domain.SignalKind, signal, prompt string) (domain.FixAttempt, domain.FileSet, error) {
	if s == nil || s.client == nil {
		return domain.FixAttempt{}, files, fmt.Errorf("%w: repair client not configured", domain.ErrRepairExhausted)
	}
	if err := files.Validate(); err != nil {
		return domain.FixAttempt{}, files, err
	}
	if s.circuitOpen() {
		return domain.FixAttempt{}, files, fmt.Errorf("%w: %w", domain.ErrRepairExhausted, ErrCircuitOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := s.now()
	response, err := s.client.Complete(callCtx, prompt)
	latency := s.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return domain.FixAttempt{}, files, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		s.recordFailure()
		s.logger.Warn("repair call failed", "signal", kind, "latency_ms", latency.Milliseconds(), "error", err)
		return domain.FixAttempt{}, files, fmt.Errorf("%w: %w", domain.ErrRepairExhausted, err)
	}
	if strings.TrimSpace(response) == "" {
		s.recordFailure()
		return domain.FixAttempt{}, files, fmt.Errorf("%w: %w", domain.ErrRepairExhausted, ErrEmptyResponse)
	}
	s.resetFailures()

	outcome := reconcile.Apply(files, response)
	fix := domain.FixAttempt{
		SignalKind:       kind,
		InputSignal:      signal,
		ChangedFilePaths: outcome.Changed,
		CreatedFilePaths: outcome.Created,
		Confidence:       Confidence(len(outcome.Changed)),
		Explanation:      outcome.Explanation,
		Additions:        outcome.Additions(),
		Deletions:        outcome.Deletions(),
	}
	s.logger.Info("repair completed",
		"signal", kind,
		"changed", len(outcome.Changed),
		"created", len(outcome.Created),
		"skipped", len(outcome.Skipped),
		"latency_ms", latency.Milliseconds(),
	)
	return fix, outcome.Files, nil
}

// Confidence is a display-only estimate that grows with the number of changed files.
func Confidence(changed int) float64 {
	if changed <= 0 {
		return 0
	}
	c := 0.7 + 0.05*float64(changed)
	if c > 0.95 {
		return 0.95
	}
	return c
}

func (s *Service) circuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openUntil.IsZero() {
		return false
	}
	if s.now().After(s.openUntil) {
		s.openUntil = time.Time{}
		s.failures = 0
		return false
	}
	return true
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.failures >= s.config.MaxFailures {
		s.openUntil = s.now().Add(s.config.Cooldown)
	}
}

func (s *Service) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.openUntil = time.Time{}
}
