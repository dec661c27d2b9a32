package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/provider"
)

type fakeProvider struct {
	mu        sync.Mutex
	outcomes  []domain.DeploymentStatus
	createErr error
	pollErr   error
	logs      string
	created   []string
	deleted   []string
	deployed  []domain.FileSet
}

func (p *fakeProvider) Create(ctx context.Context, files domain.FileSet, settings provider.Settings) (provider.Deployment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return provider.Deployment{}, p.createErr
	}
	id := fmt.Sprintf("dpl_%d", len(p.created)+1)
	p.created = append(p.created, id)
	p.deployed = append(p.deployed, files.Clone())
	return provider.Deployment{ID: id, URL: "https://" + id + ".preview.test"}, nil
}

func (p *fakeProvider) Poll(ctx context.Context, id string) (provider.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollErr != nil {
		return provider.Status{}, p.pollErr
	}
	var idx int
	fmt.Sscanf(id, "dpl_%d", &idx)
	state := domain.DeploymentReady
	if idx-1 < len(p.outcomes) {
		state = p.outcomes[idx-1]
	}
	switch state {
	case "":
		return provider.Status{State: domain.DeploymentBuilding}, nil
	case domain.DeploymentError:
		return provider.Status{State: state, ErrorMessage: "Command \"npm run build\" exited with 1"}, nil
	default:
		return provider.Status{State: state, URL: "https://" + id + ".preview.test"}, nil
	}
}

func (p *fakeProvider) FetchLogs(ctx context.Context, id string) string {
	return p.logs
}

func (p *fakeProvider) Delete(ctx context.Context, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return true
}

type fakeRepairer struct {
	calls         int
	feedbackCalls int
	signals       []string
	empty         bool
	noProgress    bool
	err           error
	before        func(ctx context.Context) error
}

func (r *fakeRepairer) RepairFromBuildFailure(ctx context.Context, files domain.FileSet, signal string) (domain.FixAttempt, domain.FileSet, error) {
	r.calls++
	r.signals = append(r.signals, signal)
	if r.before != nil {
		if err := r.before(ctx); err != nil {
			return domain.FixAttempt{}, files, err
		}
	}
	return r.fix(files, domain.SignalBuildFailure)
}

func (r *fakeRepairer) RepairFromUserFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string) (domain.FixAttempt, domain.FileSet, error) {
	r.feedbackCalls++
	return r.fix(files, domain.SignalUserFeedback)
}

func (r *fakeRepairer) fix(files domain.FileSet, kind domain.SignalKind) (domain.FixAttempt, domain.FileSet, error) {
	if r.err != nil {
		return domain.FixAttempt{}, files, r.err
	}
	if r.empty {
		return domain.FixAttempt{SignalKind: kind}, files, nil
	}
	if r.noProgress {
		return domain.FixAttempt{SignalKind: kind, ChangedFilePaths: []string{"index.html"}}, files.Clone(), nil
	}
	out := files.Clone()
	out.Put("fix.js", fmt.Sprintf("// fix %d", r.calls+r.feedbackCalls))
	return domain.FixAttempt{SignalKind: kind, ChangedFilePaths: []string{"fix.js"}, Confidence: 0.75, Explanation: "patched"}, out, nil
}

type fakeStore struct {
	records []*domain.PreviewRecord
	err     error
}

func (s *fakeStore) InsertPreviewRecord(ctx context.Context, rec *domain.PreviewRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) phases() []domain.Phase {
	var out []domain.Phase
	for _, e := range l.events {
		if e.Type == EventPhase {
			out = append(out, e.Phase)
		}
	}
	return out
}

func (l *eventLog) terminal() []Event {
	var out []Event
	for _, e := range l.events {
		if e.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	provider *fakeProvider
	repairer *fakeRepairer
	store    *fakeStore
	manager  *Manager
}

func newTestManager(opts ...func(*testEnv)) *testEnv {
	env := &testEnv{provider: &fakeProvider{}, repairer: &fakeRepairer{}, store: &fakeStore{}}
	for _, opt := range opts {
		opt(env)
	}
	env.manager = New(env.provider, env.repairer, env.store, nil, Config{
		PollPolicy:         provider.PollPolicy{Interval: time.Millisecond, MaxAttempts: 5},
		MaxAutoFixAttempts: 3,
		PreviewTTL:         time.Hour,
	})
	return env
}

func withOutcomes(states ...domain.DeploymentStatus) func(*testEnv) {
	return func(env *testEnv) { env.provider.outcomes = states }
}

func site() domain.FileSet {
	return domain.NewFileSet(domain.GeneratedFile{Path: "index.html", Content: "<h1>hi</h1>"})
}

func TestVerifySucceedsFirstAttempt(t *testing.T) {
	env := newTestManager()
	events := &eventLog{}

	res := env.manager.Verify(context.Background(), site(), Options{UserID: "user-1", ProjectID: "proj-1", Observer: events})
	if !res.Success || res.AutoFixAttempts != 0 {
		t.Fatalf("expected success with 0 fixes, got %+v", res)
	}
	if res.PreviewURL != "https://dpl_1.preview.test" || res.DeploymentID != "dpl_1" {
		t.Fatalf("unexpected preview %q %q", res.PreviewURL, res.DeploymentID)
	}
	if len(env.provider.created) != 1 || len(env.provider.deleted) != 0 {
		t.Fatalf("expected 1 created 0 deleted, got %v / %v", env.provider.created, env.provider.deleted)
	}
	if len(env.store.records) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(env.store.records))
	}
	rec := env.store.records[0]
	if rec.UserID != "user-1" || rec.DeploymentID != "dpl_1" || rec.Status != domain.PreviewActive {
		t.Fatalf("unexpected record %+v", rec)
	}
	if got := rec.ExpiresAt.Sub(rec.CreatedAt); got != time.Hour {
		t.Fatalf("expected ttl of an hour, got %s", got)
	}

	want := []domain.Phase{domain.PhaseUploading, domain.PhaseBuilding, domain.PhaseReady}
	if got := events.phases(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected phases %v", got)
	}
	terminal := events.terminal()
	if len(terminal) != 1 || terminal[0].Type != EventComplete || terminal[0].Result == nil || !terminal[0].Result.Success {
		t.Fatalf("expected exactly one complete event, got %+v", terminal)
	}
}

func TestVerifySucceedsAfterTwoRepairs(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError, domain.DeploymentError, domain.DeploymentReady))
	env.provider.logs = "Error: Cannot find module 'react'"

	res := env.manager.Verify(context.Background(), site(), Options{})
	if !res.Success || res.AutoFixAttempts != 2 {
		t.Fatalf("expected success after 2 fixes, got %+v", res)
	}
	if len(env.provider.created) != 3 {
		t.Fatalf("expected 3 deployments, got %v", env.provider.created)
	}
	if fmt.Sprint(env.provider.deleted) != "[dpl_1 dpl_2]" {
		t.Fatalf("expected failed deployments deleted, got %v", env.provider.deleted)
	}
	if len(res.Fixes) != 2 || res.Fixes[0].AttemptNumber != 1 || res.Fixes[1].AttemptNumber != 2 {
		t.Fatalf("unexpected fixes %+v", res.Fixes)
	}
	if env.repairer.signals[0] != env.provider.logs {
		t.Fatalf("expected logs as repair signal, got %q", env.repairer.signals[0])
	}
	if !res.Files.Has("fix.js") {
		t.Fatal("expected repaired files in the result")
	}
	if deployed := env.provider.deployed[2]; !deployed.Has("fix.js") {
		t.Fatal("expected repaired files to be deployed")
	}
}

func TestVerifyRecordsEachDeployment(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError, domain.DeploymentError, domain.DeploymentReady))
	env.provider.logs = "Module not found: Can't resolve './missing'"

	res := env.manager.Verify(context.Background(), site(), Options{})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Deployments) != 3 {
		t.Fatalf("expected 3 deployment records, got %+v", res.Deployments)
	}
	for i, rec := range res.Deployments[:2] {
		if rec.ID != fmt.Sprintf("dpl_%d", i+1) || rec.Status != domain.DeploymentError {
			t.Fatalf("record %d: unexpected %+v", i, rec)
		}
		if !strings.Contains(rec.ErrorMessage, "exited with 1") || rec.BuildLogs != env.provider.logs {
			t.Fatalf("record %d: expected failure details, got %+v", i, rec)
		}
		if rec.ReadyAt != nil {
			t.Fatalf("record %d: failed deployment must not be ready", i)
		}
	}
	last := res.Deployments[2]
	if last.ID != "dpl_3" || last.Status != domain.DeploymentReady || last.ReadyAt == nil {
		t.Fatalf("unexpected final record %+v", last)
	}
	if last.URL != res.PreviewURL || last.ErrorMessage != "" || last.BuildLogs != "" {
		t.Fatalf("unexpected final record %+v", last)
	}
	if last.ReadyAt.Before(last.CreatedAt) {
		t.Fatalf("ready before created: %+v", last)
	}
}

func TestVerifyExhaustsBudget(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError, domain.DeploymentError))

	res := env.manager.Verify(context.Background(), site(), Options{MaxAutoFixAttempts: 1})
	if res.Success || res.AutoFixAttempts != 1 {
		t.Fatalf("expected failure with 1 fix, got %+v", res)
	}
	if res.ErrorKind != domain.KindBuildFailed {
		t.Fatalf("expected build_failed, got %s (%s)", res.ErrorKind, res.Error)
	}
	if len(env.provider.created) != 2 || len(env.provider.deleted) != 2 {
		t.Fatalf("expected both deployments created and deleted, got %v / %v", env.provider.created, env.provider.deleted)
	}
	if env.repairer.calls != 1 {
		t.Fatalf("expected one repair call, got %d", env.repairer.calls)
	}
	if !strings.Contains(env.repairer.signals[0], "exited with 1") {
		t.Fatalf("expected error message fallback when logs are empty, got %q", env.repairer.signals[0])
	}
	if len(env.store.records) != 0 {
		t.Fatal("failures must not be persisted")
	}
}

func TestVerifyStopsWhenRepairProducesNothing(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError))
	env.repairer.empty = true
	events := &eventLog{}

	res := env.manager.Verify(context.Background(), site(), Options{Observer: events})
	if res.Success || res.ErrorKind != domain.KindRepairExhausted {
		t.Fatalf("expected repair_exhausted, got %+v", res)
	}
	if len(env.provider.created) != 1 {
		t.Fatalf("create must not be called again, got %v", env.provider.created)
	}
	if fmt.Sprint(env.provider.deleted) != "[dpl_1]" {
		t.Fatalf("expected failed deployment deleted, got %v", env.provider.deleted)
	}
	terminal := events.terminal()
	if len(terminal) != 1 || terminal[0].Type != EventError || terminal[0].Phase != domain.PhaseError {
		t.Fatalf("expected one error event, got %+v", terminal)
	}
}

func TestVerifyDetectsNoProgress(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError, domain.DeploymentReady))
	env.repairer.noProgress = true

	res := env.manager.Verify(context.Background(), site(), Options{})
	if res.ErrorKind != domain.KindRepairExhausted {
		t.Fatalf("expected repair_exhausted, got %s", res.ErrorKind)
	}
	if len(env.provider.created) != 1 {
		t.Fatalf("expected no redeploy of an identical file set, got %v", env.provider.created)
	}
	if res.AutoFixAttempts != 0 {
		t.Fatalf("no-progress repair must not count as an applied fix, got %d", res.AutoFixAttempts)
	}
}

func TestVerifyRepairErrorIsExhausted(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError))
	env.repairer.err = errors.New("model unavailable")

	res := env.manager.Verify(context.Background(), site(), Options{})
	if res.ErrorKind != domain.KindRepairExhausted || !strings.Contains(res.Error, "model unavailable") {
		t.Fatalf("expected repair_exhausted carrying cause, got %+v", res)
	}
	if len(env.provider.deleted) != 1 {
		t.Fatalf("expected failed deployment deleted, got %v", env.provider.deleted)
	}
}

func TestVerifyCreateErrorIsTerminal(t *testing.T) {
	env := newTestManager()
	env.provider.createErr = fmt.Errorf("create deployment: %w", domain.ErrQuotaExceeded)

	res := env.manager.Verify(context.Background(), site(), Options{})
	if res.Success || res.ErrorKind != domain.KindQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %+v", res)
	}
	if env.repairer.calls != 0 || res.AutoFixAttempts != 0 {
		t.Fatalf("provider errors must not trigger repair")
	}
	if len(env.provider.deleted) != 0 {
		t.Fatalf("nothing to delete, got %v", env.provider.deleted)
	}
}

func TestVerifyPollUnavailableIsTerminal(t *testing.T) {
	env := newTestManager()
	env.provider.pollErr = errors.New("connection reset")

	res := env.manager.Verify(context.Background(), site(), Options{})
	if res.ErrorKind != domain.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %s (%s)", res.ErrorKind, res.Error)
	}
	if env.repairer.calls != 0 {
		t.Fatal("availability errors must not trigger repair")
	}
	if fmt.Sprint(env.provider.deleted) != "[dpl_1]" {
		t.Fatalf("expected live deployment deleted, got %v", env.provider.deleted)
	}
}

func TestVerifyTimeoutIsRepaired(t *testing.T) {
	env := newTestManager(withOutcomes("", domain.DeploymentReady))

	res := env.manager.Verify(context.Background(), site(), Options{})
	if !res.Success || res.AutoFixAttempts != 1 {
		t.Fatalf("expected success after repairing a timeout, got %+v", res)
	}
	if !strings.Contains(env.repairer.signals[0], "not ready after 5 polls") {
		t.Fatalf("expected timeout message as signal, got %q", env.repairer.signals[0])
	}
}

func TestVerifyRejectsInvalidFiles(t *testing.T) {
	env := newTestManager()
	res := env.manager.Verify(context.Background(), domain.NewFileSet(), Options{})
	if res.ErrorKind != domain.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %s", res.ErrorKind)
	}
	if len(env.provider.created) != 0 {
		t.Fatal("invalid input must not reach the provider")
	}
}

func TestVerifyCancelledMidPoll(t *testing.T) {
	env := newTestManager(withOutcomes(""))
	env.manager.cfg.PollPolicy = provider.PollPolicy{Interval: 5 * time.Millisecond, MaxAttempts: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := &eventLog{}
	observer := ObserverFunc(func(e Event) {
		events.Publish(e)
		if e.Type == EventProgress && e.PollAttempt == 3 {
			cancel()
		}
	})

	res := env.manager.Verify(ctx, site(), Options{Observer: observer})
	if res.Success || res.ErrorKind != domain.KindCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if fmt.Sprint(env.provider.deleted) != "[dpl_1]" {
		t.Fatalf("expected live deployment deletion attempt, got %v", env.provider.deleted)
	}
	terminal := events.terminal()
	if len(terminal) != 1 || terminal[0].Phase != domain.PhaseCancelled {
		t.Fatalf("expected one cancelled terminal event, got %+v", terminal)
	}
}

func TestVerifyCancelledDuringRepair(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError, domain.DeploymentReady))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.repairer.before = func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	events := &eventLog{}

	res := env.manager.Verify(ctx, site(), Options{Observer: events})
	if res.Success || res.ErrorKind != domain.KindCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if len(env.provider.created) != 1 {
		t.Fatalf("expected no redeploy after cancellation, got %v", env.provider.created)
	}
	if fmt.Sprint(env.provider.deleted) != "[dpl_1]" {
		t.Fatalf("expected failed deployment deleted, got %v", env.provider.deleted)
	}
	if res.AutoFixAttempts != 0 || len(res.Fixes) != 0 {
		t.Fatalf("cancelled repair must not be counted, got %+v", res)
	}
	terminal := events.terminal()
	if len(terminal) != 1 || terminal[0].Phase != domain.PhaseCancelled {
		t.Fatalf("expected one cancelled terminal event, got %+v", terminal)
	}
}

func TestVerifyDisableAutoFix(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError))
	res := env.manager.Verify(context.Background(), site(), Options{DisableAutoFix: true})
	if res.Success || res.AutoFixAttempts != 0 || env.repairer.calls != 0 {
		t.Fatalf("expected immediate failure without repair, got %+v", res)
	}
}

func TestFixFromFeedbackVerifiesOnce(t *testing.T) {
	env := newTestManager(withOutcomes(domain.DeploymentError))

	out := env.manager.FixFromFeedback(context.Background(), site(), "add a footer", "https://old.preview.test", Options{})
	if !out.Applied || out.Verification == nil {
		t.Fatalf("expected applied fix with verification, got %+v", out)
	}
	if out.Verification.Success || out.ErrorKind != domain.KindBuildFailed {
		t.Fatalf("expected failed verification reported, got %+v", out.Verification)
	}
	if env.repairer.calls != 0 || len(env.provider.created) != 1 {
		t.Fatalf("feedback path must not auto-retry: repairs=%d creates=%d", env.repairer.calls, len(env.provider.created))
	}
	if !out.Files.Has("fix.js") {
		t.Fatal("expected repaired files returned")
	}
}

func TestFixFromFeedbackSuccess(t *testing.T) {
	env := newTestManager()
	out := env.manager.FixFromFeedback(context.Background(), site(), "make it blue", "", Options{UserID: "u"})
	if !out.Applied || out.Verification == nil || !out.Verification.Success {
		t.Fatalf("expected successful verification, got %+v", out)
	}
	if out.Fix.AttemptNumber != 1 || out.Fix.SignalKind != domain.SignalUserFeedback {
		t.Fatalf("unexpected fix %+v", out.Fix)
	}
	if len(env.store.records) != 1 {
		t.Fatalf("expected success record, got %d", len(env.store.records))
	}
}

func TestFixFromFeedbackWithoutChanges(t *testing.T) {
	env := newTestManager()
	env.repairer.empty = true
	out := env.manager.FixFromFeedback(context.Background(), site(), "make it pop", "", Options{})
	if out.Applied || out.Verification != nil {
		t.Fatalf("expected nothing applied, got %+v", out)
	}
	if out.ErrorKind != domain.KindRepairExhausted {
		t.Fatalf("expected repair_exhausted, got %s", out.ErrorKind)
	}
	if len(env.provider.created) != 0 {
		t.Fatal("no verification expected when nothing changed")
	}
}

func TestPersistFailureDoesNotFailVerification(t *testing.T) {
	env := newTestManager()
	env.store.err = errors.New("database down")
	res := env.manager.Verify(context.Background(), site(), Options{})
	if !res.Success {
		t.Fatalf("expected success despite persistence error, got %+v", res)
	}
}
