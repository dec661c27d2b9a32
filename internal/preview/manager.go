// Package preview runs build verification sessions: deploy, poll, repair, retry.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/provider"
)

const (
	DefaultMaxAutoFixAttempts = 3
	defaultPreviewTTL         = 24 * time.Hour
	defaultCleanupTimeout     = 30 * time.Second
)

// Repairer produces fixes for a file set.
type Repairer interface {
	RepairFromBuildFailure(ctx context.Context, files domain.FileSet, signal string) (domain.FixAttempt, domain.FileSet, error)
	RepairFromUserFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string) (domain.FixAttempt, domain.FileSet, error)
}

// RecordStore persists summaries of successful verifications.
type RecordStore interface {
	InsertPreviewRecord(ctx context.Context, rec *domain.PreviewRecord) error
}

// Config tunes the orchestrator.
type Config struct {
	PollPolicy         provider.PollPolicy
	MaxAutoFixAttempts int
	PreviewTTL         time.Duration
	CleanupTimeout     time.Duration
}

// Options are per-request settings.
type Options struct {
	SessionID string
	UserID    string
	ProjectID string
	// MaxAutoFixAttempts <= 0 uses the manager default.
	MaxAutoFixAttempts int
	DisableAutoFix     bool
	Settings           provider.Settings
	Observer           Observer
}

// Option customises a Manager.
type Option func(*Manager)

// WithRecorder sets the measurement sink.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager drives verification sessions. It is safe for concurrent use; each
// call owns its own session state.
type Manager struct {
	client   provider.Client
	repairer Repairer
	store    RecordStore
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New constructs a Manager. store may be nil, in which case nothing is persisted.
func New(client provider.Client, repairer Repairer, store RecordStore, logger *slog.Logger, cfg Config, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxAutoFixAttempts <= 0 {
		cfg.MaxAutoFixAttempts = DefaultMaxAutoFixAttempts
	}
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = defaultPreviewTTL
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if cfg.PollPolicy == (provider.PollPolicy{}) {
		cfg.PollPolicy = provider.DefaultPollPolicy()
	}
	m := &Manager{
		client:   client,
		repairer: repairer,
		store:    store,
		recorder: nopRecorder{},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// session is the mutable state of one call. Only the goroutine running the
// call touches it.
type session struct {
	domain.PreviewSession
	observer Observer
	settings provider.Settings
	budget   int
	live     string
	seen     map[string]bool
	logger   *slog.Logger
}

func (m *Manager) newSession(files domain.FileSet, opts Options) *session {
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	budget := opts.MaxAutoFixAttempts
	if budget <= 0 {
		budget = m.cfg.MaxAutoFixAttempts
	}
	if opts.DisableAutoFix {
		budget = 0
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	settings := opts.Settings
	if settings.ProjectID == "" {
		settings.ProjectID = opts.ProjectID
	}
	return &session{
		PreviewSession: domain.PreviewSession{
			ID:           id,
			UserID:       opts.UserID,
			ProjectID:    opts.ProjectID,
			Phase:        domain.PhaseIdle,
			CurrentFiles: files.Clone(),
			StartedAt:    m.now(),
		},
		observer: observer,
		settings: settings,
		budget:   budget,
		seen:     make(map[string]bool),
		logger:   m.logger.With("session_id", id),
	}
}

// Verify deploys files and, while builds fail, repairs and redeploys them up to
// the auto-fix budget. It always returns a definitive result.
func (m *Manager) Verify(ctx context.Context, files domain.FileSet, opts Options) domain.Result {
	s := m.newSession(files, opts)
	s.logger.Info("verification started", "files", files.Len(), "max_auto_fix_attempts", s.budget)
	return m.run(ctx, s)
}

func (m *Manager) run(ctx context.Context, s *session) domain.Result {
	if err := s.CurrentFiles.Validate(); err != nil {
		return m.finish(ctx, s, err)
	}

	failures := 0
	for {
		s.seen[s.CurrentFiles.Fingerprint()] = true

		m.setPhase(s, domain.PhaseUploading, "Uploading files")
		dep, err := m.client.Create(ctx, s.CurrentFiles, s.settings)
		if err != nil {
			if ctx.Err() != nil {
				return m.finish(ctx, s, cancelled(ctx))
			}
			if domain.KindOf(err) == domain.KindInternal {
				err = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
			}
			return m.finish(ctx, s, err)
		}
		m.recorder.DeploymentCreated()
		s.live = dep.ID
		s.DeploymentID = dep.ID
		s.Deployments = append(s.Deployments, domain.DeploymentRecord{
			ID:        dep.ID,
			URL:       dep.URL,
			Status:    domain.DeploymentQueued,
			CreatedAt: m.now(),
		})
		record := &s.Deployments[len(s.Deployments)-1]
		s.logger.Info("deployment created", "deployment_id", dep.ID, "attempt", failures)

		m.setPhase(s, domain.PhaseBuilding, "Building")
		status, err := provider.Wait(ctx, m.client, dep.ID, m.cfg.PollPolicy, func(t provider.Tick) {
			if t.Err == nil {
				record.Observe(t.Status.State, t.Status.URL, t.Status.ErrorMessage, m.now())
			}
			m.publish(s, Event{
				Type:         EventProgress,
				Message:      progressMessage(t),
				DeploymentID: dep.ID,
				Attempt:      failures,
				PollAttempt:  t.Attempt,
				PollMax:      t.MaxAttempts,
			})
		})
		if err == nil {
			record.Observe(status.State, status.URL, "", m.now())
			s.PreviewURL = firstNonEmpty(status.URL, dep.URL)
			s.BuildTimeMs = m.now().Sub(s.StartedAt).Milliseconds()
			m.persist(ctx, s)
			return m.finish(ctx, s, nil)
		}
		if ctx.Err() != nil || errors.Is(err, domain.ErrCancelled) {
			return m.finish(ctx, s, cancelled(ctx))
		}
		if record.ErrorMessage == "" {
			record.ErrorMessage = err.Error()
		}
		if !domain.Repairable(err) {
			return m.finish(ctx, s, err)
		}

		s.LastError = err
		s.LastLogs = provider.TailLogs(m.client.FetchLogs(ctx, dep.ID), provider.MaxLogBytes)
		record.BuildLogs = s.LastLogs
		failures++
		s.logger.Warn("build failed", "deployment_id", dep.ID, "attempt", failures, "kind", domain.KindOf(err), "error", err)
		if failures > s.budget {
			return m.finish(ctx, s, err)
		}

		m.setPhase(s, domain.PhaseAutoFixing, fmt.Sprintf("Auto-fixing (attempt %d/%d)", failures, s.budget))
		signal := s.LastLogs
		if strings.TrimSpace(signal) == "" {
			signal = err.Error()
		}
		fix, repaired, rerr := m.repairer.RepairFromBuildFailure(ctx, s.CurrentFiles, signal)
		if rerr != nil {
			if ctx.Err() != nil || errors.Is(rerr, domain.ErrCancelled) {
				return m.finish(ctx, s, cancelled(ctx))
			}
			m.recorder.RepairFinished(domain.SignalBuildFailure, domain.KindOf(rerr), 0)
			if !errors.Is(rerr, domain.ErrRepairExhausted) {
				rerr = fmt.Errorf("%w: %w", domain.ErrRepairExhausted, rerr)
			}
			return m.finish(ctx, s, rerr)
		}
		fix.AttemptNumber = failures
		s.Fixes = append(s.Fixes, fix)
		m.recorder.RepairFinished(domain.SignalBuildFailure, domain.KindNone, len(fix.ChangedFilePaths))
		m.publish(s, Event{Type: EventFix, Message: fix.Explanation, Attempt: failures, Fix: &fix})

		if fix.Empty() {
			return m.finish(ctx, s, fmt.Errorf("%w: repair produced no changes", domain.ErrRepairExhausted))
		}
		if s.seen[repaired.Fingerprint()] {
			return m.finish(ctx, s, fmt.Errorf("%w: repair reproduced a file set that already failed to build", domain.ErrRepairExhausted))
		}

		s.CurrentFiles = repaired
		s.AutoFixAttempts++
		m.deleteLive(ctx, s)
	}
}

// finish deletes any live deployment on failure, publishes the single terminal
// event and builds the result.
func (m *Manager) finish(ctx context.Context, s *session, err error) domain.Result {
	result := domain.Result{
		SessionID:       s.ID,
		AutoFixAttempts: s.AutoFixAttempts,
		Files:           s.CurrentFiles,
		Fixes:           s.Fixes,
		Deployments:     s.Deployments,
	}
	if err == nil {
		result.Success = true
		result.PreviewURL = s.PreviewURL
		result.DeploymentID = s.DeploymentID
		result.BuildTimeMs = s.BuildTimeMs
		m.setPhase(s, domain.PhaseReady, "Preview ready")
		s.logger.Info("verification succeeded", "deployment_id", s.DeploymentID, "url", s.PreviewURL, "auto_fix_attempts", s.AutoFixAttempts, "build_time_ms", s.BuildTimeMs)
		m.publish(s, Event{Type: EventComplete, DeploymentID: s.DeploymentID, Message: s.PreviewURL, Result: &result})
		m.recorder.VerificationFinished(result, m.now().Sub(s.StartedAt))
		return result
	}

	m.deleteLive(ctx, s)
	s.LastError = err
	result.Error = err.Error()
	result.ErrorKind = domain.KindOf(err)
	result.Logs = s.LastLogs

	phase := domain.PhaseError
	if result.ErrorKind == domain.KindCancelled {
		phase = domain.PhaseCancelled
	}
	m.setPhase(s, phase, result.Error)
	s.logger.Warn("verification failed", "kind", result.ErrorKind, "auto_fix_attempts", s.AutoFixAttempts, "error", err)
	m.publish(s, Event{Type: EventError, Message: result.Error, Result: &result})
	m.recorder.VerificationFinished(result, m.now().Sub(s.StartedAt))
	return result
}

// deleteLive removes the session's live deployment, even after ctx is cancelled.
func (m *Manager) deleteLive(ctx context.Context, s *session) {
	if s.live == "" {
		return
	}
	id := s.live
	s.live = ""
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CleanupTimeout)
	defer cancel()
	ok := m.client.Delete(cleanupCtx, id)
	m.recorder.DeploymentDeleted(ok)
	if !ok {
		s.logger.Warn("failed to delete deployment", "deployment_id", id)
		return
	}
	s.logger.Info("deployment deleted", "deployment_id", id)
}

func (m *Manager) persist(ctx context.Context, s *session) {
	if m.store == nil {
		return
	}
	created := m.now().UTC()
	rec := &domain.PreviewRecord{
		ID:              uuid.NewString(),
		SessionID:       s.ID,
		UserID:          s.UserID,
		ProjectID:       s.ProjectID,
		DeploymentID:    s.DeploymentID,
		URL:             s.PreviewURL,
		Files:           s.CurrentFiles,
		Status:          domain.PreviewActive,
		AutoFixAttempts: s.AutoFixAttempts,
		BuildTimeMs:     s.BuildTimeMs,
		CreatedAt:       created,
		ExpiresAt:       created.Add(m.cfg.PreviewTTL),
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CleanupTimeout)
	defer cancel()
	if err := m.store.InsertPreviewRecord(storeCtx, rec); err != nil {
		s.logger.Error("persist preview record failed", "deployment_id", s.DeploymentID, "error", err)
	}
}

func (m *Manager) setPhase(s *session, to domain.Phase, message string) {
	if s.Phase == to {
		return
	}
	if !domain.CanTransition(s.Phase, to) {
		s.logger.Error("illegal phase transition", "from", s.Phase, "to", to)
	}
	s.Phase = to
	m.publish(s, Event{Type: EventPhase, Message: message, DeploymentID: s.live})
}

func (m *Manager) publish(s *session, e Event) {
	e.SessionID = s.ID
	e.Phase = s.Phase
	if e.At.IsZero() {
		e.At = m.now()
	}
	s.observer.Publish(e)
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return domain.ErrCancelled
}

func progressMessage(t provider.Tick) string {
	if t.Err != nil {
		return fmt.Sprintf("Waiting for build (%d/%d): status check failed", t.Attempt, t.MaxAttempts)
	}
	return fmt.Sprintf("Waiting for build (%d/%d): %s", t.Attempt, t.MaxAttempts, t.Status.State)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
