package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/splax/previewd/internal/buildprofile"
	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/preview"
	"github.com/splax/previewd/internal/provider"
	"github.com/splax/previewd/internal/session"
	"github.com/splax/previewd/internal/ws"
)

type verifyRequest struct {
	Files              domain.FileSet         `json:"files"`
	ProjectID          string                 `json:"project_id,omitempty"`
	Name               string                 `json:"name,omitempty"`
	Settings           buildprofile.Overrides `json:"settings"`
	MaxAutoFixAttempts int                    `json:"max_auto_fix_attempts,omitempty"`
	DisableAutoFix     bool                   `json:"disable_auto_fix,omitempty"`
	Async              bool                   `json:"async,omitempty"`
}

type feedbackRequest struct {
	Files      domain.FileSet         `json:"files"`
	Feedback   string                 `json:"feedback"`
	ContextURL string                 `json:"context_url,omitempty"`
	ProjectID  string                 `json:"project_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Settings   buildprofile.Overrides `json:"settings"`
}

func sessionOptions(info authInfo, projectID, name string, overrides buildprofile.Overrides) preview.Options {
	if strings.TrimSpace(projectID) == "" {
		projectID = info.ProjectID
	}
	return preview.Options{
		UserID:    info.UserID,
		ProjectID: projectID,
		Settings: provider.Settings{
			Name:      name,
			ProjectID: projectID,
			Overrides: overrides,
		},
	}
}

// verifyOptions rejects auto-fix budgets outside [0, fixLimit]; zero means the
// server default.
func (r *Router) verifyOptions(info authInfo, payload verifyRequest) (preview.Options, error) {
	if n := payload.MaxAutoFixAttempts; n < 0 || n > r.fixLimit {
		return preview.Options{}, fmt.Errorf("%w: max_auto_fix_attempts must be between 0 and %d", domain.ErrInvalidInput, r.fixLimit)
	}
	opts := sessionOptions(info, payload.ProjectID, payload.Name, payload.Settings)
	opts.MaxAutoFixAttempts = payload.MaxAutoFixAttempts
	opts.DisableAutoFix = payload.DisableAutoFix
	return opts, nil
}

func (r *Router) decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxRequestBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// startSession registers a session and runs fn in it. The session's events
// reach the registry tracker and the owner's hub topic.
func (r *Router) startSession(ctx context.Context, info authInfo, opts preview.Options, fn func(context.Context, preview.Options)) *session.Tracker {
	return r.sessions.Start(ctx, info.UserID, func(ctx context.Context, id string, obs preview.Observer) {
		r.metrics.SessionStarted()
		defer r.metrics.SessionEnded()
		opts.SessionID = id
		opts.Observer = obs
		if r.hub != nil {
			opts.Observer = preview.Observers(obs, ws.UserObserver(r.hub, info.UserID))
		}
		fn(ctx, opts)
	})
}

func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload verifyRequest
	if !r.decode(w, req, &payload) {
		return
	}
	if err := payload.Files.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	opts, err := r.verifyOptions(info, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !r.allowVerification(w, "/v1/verify", opts) {
		return
	}

	if payload.Async {
		tracker := r.startSession(r.baseCtx, info, opts, func(ctx context.Context, opts preview.Options) {
			r.verifier.Verify(ctx, payload.Files, opts)
		})
		writeJSON(w, http.StatusAccepted, map[string]string{
			"session_id": tracker.ID(),
			"status_url": "/v1/sessions/" + tracker.ID(),
		})
		return
	}

	done := make(chan domain.Result, 1)
	tracker := r.startSession(req.Context(), info, opts, func(ctx context.Context, opts preview.Options) {
		done <- r.verifier.Verify(ctx, payload.Files, opts)
	})
	w.Header().Set("X-Session-ID", tracker.ID())
	select {
	case result := <-done:
		noteErrorKind(w, result.ErrorKind)
		writeJSON(w, http.StatusOK, result)
	case <-req.Context().Done():
		r.logger.Info("verify caller went away", "session_id", tracker.ID())
	}
}

func (r *Router) handleVerifyStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload verifyRequest
	if !r.decode(w, req, &payload) {
		return
	}
	if err := payload.Files.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	opts, err := r.verifyOptions(info, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !r.allowVerification(w, "/v1/verify/stream", opts) {
		return
	}

	tracker := r.startSession(req.Context(), info, opts, func(ctx context.Context, opts preview.Options) {
		r.verifier.Verify(ctx, payload.Files, opts)
	})
	r.streamSSE(w, req, tracker)
}

func (r *Router) streamSSE(w http.ResponseWriter, req *http.Request, tracker *session.Tracker) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, unsubscribe := tracker.Subscribe(0)
	defer unsubscribe()

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Session-ID", tracker.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := ws.NewSSEStream(w, flusher, r.logger)
	defer stream.Close()
	if err := ws.Relay(req.Context(), events, stream, sseHeartbeat); err != nil {
		r.logger.Info("event stream ended early", "session_id", tracker.ID(), "frames", stream.Written(), "error", err)
		return
	}
	if res := tracker.Snapshot().Result; res != nil {
		noteErrorKind(w, res.ErrorKind)
	}
}

func (r *Router) handleFeedback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload feedbackRequest
	if !r.decode(w, req, &payload) {
		return
	}
	if err := payload.Files.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(payload.Feedback) == "" {
		writeDomainError(w, fmt.Errorf("%w: feedback is required", domain.ErrInvalidInput))
		return
	}
	opts := sessionOptions(info, payload.ProjectID, payload.Name, payload.Settings)
	if !r.allowVerification(w, "/v1/feedback", opts) {
		return
	}

	done := make(chan preview.FeedbackResult, 1)
	tracker := r.startSession(req.Context(), info, opts, func(ctx context.Context, opts preview.Options) {
		done <- r.verifier.FixFromFeedback(ctx, payload.Files, payload.Feedback, payload.ContextURL, opts)
	})
	w.Header().Set("X-Session-ID", tracker.ID())
	select {
	case result := <-done:
		noteErrorKind(w, result.ErrorKind)
		writeJSON(w, http.StatusOK, result)
	case <-req.Context().Done():
		r.logger.Info("feedback caller went away", "session_id", tracker.ID())
	}
}

func (r *Router) handleSessionSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/v1/sessions/"), "/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	tracker, ok := r.sessions.Get(sessionID)
	if !ok || tracker.Snapshot().UserID != info.UserID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "ws":
			r.handleSessionWS(w, req, tracker)
		case "events":
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			r.streamSSE(w, req, tracker)
		default:
			r.notFound(w)
		}
		return
	}

	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, tracker.Snapshot())
	case http.MethodDelete:
		if !r.sessions.Cancel(sessionID) {
			writeError(w, http.StatusConflict, "session already finished")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "session_id": sessionID})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request, tracker *session.Tracker) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	events, unsubscribe := tracker.Subscribe(0)
	go func() {
		defer client.Close()
		defer unsubscribe()
		ctx, cancel := context.WithCancel(r.baseCtx)
		defer cancel()
		readDone := client.DrainReads()
		go func() {
			select {
			case <-readDone:
				cancel()
			case <-ctx.Done():
			}
		}()
		if err := ws.Relay(ctx, events, client, wsHeartbeat); err != nil {
			r.logger.Info("session websocket ended early", "session_id", tracker.ID(), "error", err)
		}
	}()
}

func (r *Router) handleUserEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event hub disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.UserID, client)
	go func() {
		<-client.DrainReads()
		r.hub.Unregister(info.UserID, client)
		client.Close()
	}()
}

func (r *Router) handlePreviews(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.previews == nil {
		writeJSON(w, http.StatusOK, []domain.PreviewRecord{})
		return
	}
	records, err := r.previews.ListActivePreviews(req.Context(), info.UserID, r.now())
	if err != nil {
		r.logger.Error("list previews failed", "user_id", info.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list previews")
		return
	}
	if req.URL.Query().Get("include_files") != "true" {
		for i := range records {
			records[i].Files = domain.FileSet{}
		}
	}
	writeJSON(w, http.StatusOK, records)
}
