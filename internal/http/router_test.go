package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/preview"
	"github.com/splax/previewd/internal/session"
	jwtpkg "github.com/splax/previewd/pkg/jwt"
)

const testSecret = "test-secret"

type fakeVerifier struct {
	mu       sync.Mutex
	result   domain.Result
	feedback preview.FeedbackResult
	block    chan struct{}
	opts     []preview.Options
}

func (f *fakeVerifier) Verify(ctx context.Context, files domain.FileSet, opts preview.Options) domain.Result {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	opts.Observer.Publish(preview.Event{Type: preview.EventPhase, SessionID: opts.SessionID, Phase: domain.PhaseUploading})
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			res := domain.Result{SessionID: opts.SessionID, Error: "cancelled", ErrorKind: domain.KindCancelled, Files: files}
			opts.Observer.Publish(preview.Event{Type: preview.EventError, SessionID: opts.SessionID, Phase: domain.PhaseCancelled, Result: &res})
			return res
		}
	}
	res := f.result
	res.SessionID = opts.SessionID
	res.Files = files
	opts.Observer.Publish(preview.Event{Type: preview.EventComplete, SessionID: opts.SessionID, Phase: domain.PhaseReady, Result: &res})
	return res
}

func (f *fakeVerifier) FixFromFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string, opts preview.Options) preview.FeedbackResult {
	res := f.feedback
	res.SessionID = opts.SessionID
	opts.Observer.Publish(preview.Event{Type: preview.EventComplete, SessionID: opts.SessionID, Phase: domain.PhaseReady})
	return res
}

func (f *fakeVerifier) lastOptions() preview.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[len(f.opts)-1]
}

type previewListerStub struct {
	records []domain.PreviewRecord
	err     error
	userID  string
}

func (p *previewListerStub) ListActivePreviews(_ context.Context, userID string, _ time.Time) ([]domain.PreviewRecord, error) {
	p.userID = userID
	return p.records, p.err
}

type testServer struct {
	router   *Router
	verifier *fakeVerifier
	sessions *session.Registry
	previews *previewListerStub
}

func newTestServer(t *testing.T, opts ...func(*Dependencies)) *testServer {
	t.Helper()
	verifier := &fakeVerifier{result: domain.Result{Success: true, PreviewURL: "https://p.example.app", DeploymentID: "dpl_1"}}
	previews := &previewListerStub{}
	sessions := session.NewRegistry(time.Minute)
	deps := Dependencies{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Verifier:   verifier,
		Sessions:   sessions,
		Previews:   previews,
		JWTSecret:  testSecret,
		Registerer: prometheus.NewRegistry(),
		Gatherer:   prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := NewRouter(deps)
	t.Cleanup(router.Close)
	return &testServer{router: router, verifier: verifier, sessions: sessions, previews: previews}
}

func token(t *testing.T, userID, projectID string) string {
	t.Helper()
	tok, err := jwtpkg.GenerateToken(userID, projectID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func siteFiles() domain.FileSet {
	return domain.NewFileSet(domain.GeneratedFile{Path: "index.html", Content: "<h1>ok</h1>"})
}

func TestVerifyRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/v1/verify", "", verifyRequest{Files: siteFiles()})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/v1/verify", "garbage", verifyRequest{Files: siteFiles()})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestVerifySyncReturnsResult(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/v1/verify", token(t, "user-1", "proj-9"), verifyRequest{Files: siteFiles(), Name: "Landing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result domain.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.PreviewURL != "https://p.example.app" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.SessionID == "" || rec.Header().Get("X-Session-ID") != result.SessionID {
		t.Fatalf("session id header %q does not match result %q", rec.Header().Get("X-Session-ID"), result.SessionID)
	}
	opts := srv.verifier.lastOptions()
	if opts.UserID != "user-1" || opts.ProjectID != "proj-9" || opts.Settings.Name != "Landing" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestVerifyRejectsInvalidFiles(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/v1/verify", token(t, "user-1", ""), verifyRequest{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var payload map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload["error_kind"] != string(domain.KindInvalidInput) {
		t.Fatalf("expected invalid_input kind, got %v", payload)
	}
	if len(srv.verifier.opts) != 0 {
		t.Fatalf("verifier must not run for invalid input")
	}
}

func TestVerifyRejectsAutoFixBudgetAboveLimit(t *testing.T) {
	srv := newTestServer(t, func(d *Dependencies) { d.MaxAutoFixLimit = 5 })
	tok := token(t, "user-1", "")

	for _, path := range []string{"/v1/verify", "/v1/verify/stream"} {
		for _, n := range []int{6, 1000, -1} {
			rec := srv.do(t, http.MethodPost, path, tok, verifyRequest{Files: siteFiles(), MaxAutoFixAttempts: n})
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("%s max=%d: expected 422, got %d", path, n, rec.Code)
			}
			var payload map[string]string
			_ = json.Unmarshal(rec.Body.Bytes(), &payload)
			if payload["error_kind"] != string(domain.KindInvalidInput) {
				t.Fatalf("%s max=%d: expected invalid_input, got %v", path, n, payload)
			}
		}
	}
	if len(srv.verifier.opts) != 0 {
		t.Fatal("verifier must not run for an out-of-range budget")
	}

	rec := srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{Files: siteFiles(), MaxAutoFixAttempts: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 at the limit, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := srv.verifier.lastOptions().MaxAutoFixAttempts; got != 5 {
		t.Fatalf("expected budget 5 passed through, got %d", got)
	}
}

func TestVerifyStreamEmitsSSE(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/v1/verify/stream", token(t, "user-1", ""), verifyRequest{Files: siteFiles()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: phase\n") {
		t.Fatalf("missing phase event: %q", body)
	}
	if strings.Count(body, "event: complete\n") != 1 {
		t.Fatalf("expected exactly one complete event: %q", body)
	}
}

func TestAsyncSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	srv.verifier.block = make(chan struct{})
	tok := token(t, "user-1", "")

	rec := srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{Files: siteFiles(), Async: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var accepted map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &accepted)
	id := accepted["session_id"]
	if id == "" {
		t.Fatalf("missing session id in %v", accepted)
	}

	if rec := srv.do(t, http.MethodGet, "/v1/sessions/"+id, token(t, "intruder", ""), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("other users must not see the session, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/v1/sessions/"+id, tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	_ = json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.SessionID != id || snap.Done() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if rec := srv.do(t, http.MethodDelete, "/v1/sessions/"+id, tok, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", rec.Code)
	}
	tracker, _ := srv.sessions.Get(id)
	select {
	case <-tracker.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish after cancel")
	}
	if got := tracker.Snapshot(); got.Result == nil || got.Result.ErrorKind != domain.KindCancelled {
		t.Fatalf("expected cancelled result, got %+v", got.Result)
	}
	if rec := srv.do(t, http.MethodDelete, "/v1/sessions/"+id, tok, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for finished session, got %d", rec.Code)
	}
}

func TestSessionUnknown(t *testing.T) {
	srv := newTestServer(t)
	if rec := srv.do(t, http.MethodGet, "/v1/sessions/nope", token(t, "u", ""), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFeedbackValidation(t *testing.T) {
	srv := newTestServer(t)
	srv.verifier.feedback = preview.FeedbackResult{Applied: true}
	tok := token(t, "user-1", "")

	rec := srv.do(t, http.MethodPost, "/v1/feedback", tok, feedbackRequest{Files: siteFiles(), Feedback: "  "})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty feedback, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/v1/feedback", tok, feedbackRequest{Files: siteFiles(), Feedback: "make the header blue"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res preview.FeedbackResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.Applied || res.SessionID == "" {
		t.Fatalf("unexpected feedback result %+v", res)
	}
}

func TestPreviewsStripFilesByDefault(t *testing.T) {
	srv := newTestServer(t)
	srv.previews.records = []domain.PreviewRecord{{ID: "p1", UserID: "user-1", Files: siteFiles()}}
	tok := token(t, "user-1", "")

	rec := srv.do(t, http.MethodGet, "/v1/previews", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "index.html") {
		t.Fatalf("files should be omitted by default: %s", rec.Body.String())
	}
	if srv.previews.userID != "user-1" {
		t.Fatalf("expected lookup for user-1, got %q", srv.previews.userID)
	}

	srv.previews.records = []domain.PreviewRecord{{ID: "p1", UserID: "user-1", Files: siteFiles()}}
	rec = srv.do(t, http.MethodGet, "/v1/previews?include_files=true", tok, nil)
	if !strings.Contains(rec.Body.String(), "index.html") {
		t.Fatalf("files requested but missing: %s", rec.Body.String())
	}

	srv.previews.err = errors.New("db down")
	if rec := srv.do(t, http.MethodGet, "/v1/previews", tok, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store error, got %d", rec.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	srv := newTestServer(t, func(d *Dependencies) {
		d.DBHealth = func(context.Context) error { return errors.New("connection refused") }
	})
	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	if rec := srv.do(t, http.MethodGet, "/v1/verify", token(t, "u", ""), nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer limiter.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if d := limiter.Allow("user:a", 2, time.Minute); !d.allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d := limiter.Allow("user:a", 2, time.Minute); d.allowed {
		t.Fatalf("third request should be limited")
	}
	now = now.Add(2 * time.Minute)
	if d := limiter.Allow("user:a", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("new window should reset the count, got %+v", d)
	}
}

func TestRateLimitRejectsExcessRequests(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "user-1", "")
	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitUserRead; i++ {
		last = srv.do(t, http.MethodGet, "/v1/previews", tok, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding the limit, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining 0, got %q", last.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestVerificationRateLimitKeyedByUserAndProject(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "user-1", "")
	for i := 0; i < rateLimitVerify; i++ {
		var rec *httptest.ResponseRecorder
		if i%2 == 0 {
			rec = srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{Files: siteFiles(), ProjectID: "proj-a"})
		} else {
			rec = srv.do(t, http.MethodPost, "/v1/feedback", tok, feedbackRequest{Files: siteFiles(), Feedback: "bigger title", ProjectID: "proj-a"})
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := srv.do(t, http.MethodPost, "/v1/verify/stream", tok, verifyRequest{Files: siteFiles(), ProjectID: "proj-a"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once proj-a is exhausted, got %d", rec.Code)
	}
	if rec = srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{Files: siteFiles(), ProjectID: "proj-b"}); rec.Code != http.StatusOK {
		t.Fatalf("expected another project to keep its own budget, got %d", rec.Code)
	}
	if rec = srv.do(t, http.MethodPost, "/v1/verify", token(t, "user-2", ""), verifyRequest{Files: siteFiles(), ProjectID: "proj-a"}); rec.Code != http.StatusOK {
		t.Fatalf("expected another user to keep their own budget, got %d", rec.Code)
	}
	if rec = srv.do(t, http.MethodPost, "/v1/verify", token(t, "user-1", "proj-a"), verifyRequest{Files: siteFiles()}); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the token's project to share the budget, got %d", rec.Code)
	}
	if v := testutil.ToFloat64(srv.router.api.rateLimited.WithLabelValues("/v1/verify/stream", "project")); v != 1 {
		t.Fatalf("expected one project-scoped rejection on the stream route, got %v", v)
	}
}

func TestRequestMetricsCarryErrorKind(t *testing.T) {
	srv := newTestServer(t)
	srv.verifier.result = domain.Result{Error: "build failed: exit 1", ErrorKind: domain.KindBuildFailed}
	tok := token(t, "user-1", "")

	if rec := srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{Files: siteFiles()}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/v1/verify/stream", tok, verifyRequest{Files: siteFiles()}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/v1/verify", tok, verifyRequest{}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/v1/feedback", tok, feedbackRequest{Files: siteFiles()}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	requests := srv.router.api.requests
	cases := []struct {
		route, status, kind string
	}{
		{"/v1/verify", "200", "build_failed"},
		{"/v1/verify/stream", "200", "build_failed"},
		{"/v1/verify", "422", "invalid_input"},
		{"/v1/feedback", "422", "invalid_input"},
	}
	for _, tc := range cases {
		if v := testutil.ToFloat64(requests.WithLabelValues(tc.route, tc.status, tc.kind)); v != 1 {
			t.Fatalf("%s %s %s: expected 1, got %v", tc.route, tc.status, tc.kind, v)
		}
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindInvalidInput:        http.StatusUnprocessableEntity,
		domain.KindQuotaExceeded:       http.StatusTooManyRequests,
		domain.KindProviderUnavailable: http.StatusBadGateway,
		domain.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
