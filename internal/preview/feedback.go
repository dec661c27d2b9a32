package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/previewd/internal/domain"
)

// FeedbackResult reports a user-requested change and its single verification.
// Verification is nil when the repair produced no changes.
type FeedbackResult struct {
	SessionID    string            `json:"session_id"`
	Applied      bool              `json:"applied"`
	Fix          domain.FixAttempt `json:"fix"`
	Files        domain.FileSet    `json:"files"`
	Verification *domain.Result    `json:"verification,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    domain.ErrorKind  `json:"error_kind,omitempty"`
}

// FixFromFeedback applies free-text feedback to a previously working file set
// and, when anything changed, runs one verification pass with auto-fix disabled.
// A repair that changes nothing ends the session with domain.ErrRepairExhausted.
func (m *Manager) FixFromFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string, opts Options) FeedbackResult {
	opts.DisableAutoFix = true
	s := m.newSession(files, opts)
	out := FeedbackResult{SessionID: s.ID, Files: s.CurrentFiles}

	fail := func(err error) FeedbackResult {
		result := m.finish(ctx, s, err)
		out.Error = result.Error
		out.ErrorKind = result.ErrorKind
		return out
	}
	if err := files.Validate(); err != nil {
		return fail(err)
	}
	if strings.TrimSpace(feedback) == "" {
		return fail(fmt.Errorf("%w: feedback text required", domain.ErrInvalidInput))
	}

	s.logger.Info("feedback fix started", "files", files.Len())
	fix, repaired, err := m.repairer.RepairFromUserFeedback(ctx, s.CurrentFiles, feedback, contextURL)
	if err != nil {
		if ctx.Err() != nil {
			err = cancelled(ctx)
		} else if !errors.Is(err, domain.ErrRepairExhausted) && !errors.Is(err, domain.ErrInvalidInput) {
			err = fmt.Errorf("%w: %w", domain.ErrRepairExhausted, err)
		}
		m.recorder.RepairFinished(domain.SignalUserFeedback, domain.KindOf(err), 0)
		return fail(err)
	}
	fix.AttemptNumber = 1
	out.Fix = fix
	s.Fixes = append(s.Fixes, fix)
	m.recorder.RepairFinished(domain.SignalUserFeedback, domain.KindNone, len(fix.ChangedFilePaths))
	m.publish(s, Event{Type: EventFix, Message: fix.Explanation, Attempt: 1, Fix: &fix})

	if fix.Empty() {
		return fail(fmt.Errorf("%w: feedback produced no changes", domain.ErrRepairExhausted))
	}

	out.Applied = true
	out.Files = repaired
	s.CurrentFiles = repaired
	result := m.run(ctx, s)
	out.Verification = &result
	if !result.Success {
		out.Error = result.Error
		out.ErrorKind = result.ErrorKind
	}
	return out
}
