package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/metrics"
	"github.com/splax/previewd/internal/preview"
	"github.com/splax/previewd/internal/session"
	"github.com/splax/previewd/internal/ws"
)

// Verifier runs verification sessions.
type Verifier interface {
	Verify(ctx context.Context, files domain.FileSet, opts preview.Options) domain.Result
	FixFromFeedback(ctx context.Context, files domain.FileSet, feedback, contextURL string, opts preview.Options) preview.FeedbackResult
}

// PreviewLister lists stored previews.
type PreviewLister interface {
	ListActivePreviews(ctx context.Context, userID string, now time.Time) ([]domain.PreviewRecord, error)
}

// Dependencies are the collaborators a Router serves. Asynchronous sessions
// run under BaseContext and are cancelled when it ends.
type Dependencies struct {
	Logger      *slog.Logger
	Verifier    Verifier
	Sessions    *session.Registry
	Previews    PreviewLister
	Hub         *ws.Hub
	Limiter     RateLimiter
	Metrics     *metrics.Metrics
	JWTSecret   string
	DBHealth    func(context.Context) error
	BaseContext context.Context
	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
	// MaxAutoFixLimit caps max_auto_fix_attempts per request. Zero uses
	// defaultMaxAutoFixLimit.
	MaxAutoFixLimit int
}

// Router wires HTTP endpoints to the verification engine.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	verifier  Verifier
	sessions  *session.Registry
	previews  PreviewLister
	hub       *ws.Hub
	limiter   RateLimiter
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	jwtSecret string
	dbHealth  func(context.Context) error
	baseCtx   context.Context
	gatherer  prometheus.Gatherer
	now       func() time.Time
	fixLimit  int
	api       *apiMetrics
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitVerify    = 20
	rateLimitUserRead  = 120
	rateLimitUserWrite = 60
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	wsHeartbeat        = 30 * time.Second
	maxRequestBytes    = 32 << 20

	defaultMaxAutoFixLimit = 10
)

// NewRouter assembles routes with dependencies.
func NewRouter(deps Dependencies) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   deps.Logger,
		verifier: deps.Verifier,
		sessions: deps.Sessions,
		previews: deps.Previews,
		hub:      deps.Hub,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		jwtSecret: deps.JWTSecret,
		dbHealth:  deps.DBHealth,
		baseCtx:   deps.BaseContext,
		gatherer:  deps.Gatherer,
		now:       time.Now,
		fixLimit:  deps.MaxAutoFixLimit,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.sessions == nil {
		r.sessions = session.NewRegistry(0)
	}
	if r.baseCtx == nil {
		r.baseCtx = context.Background()
	}
	if r.fixLimit <= 0 {
		r.fixLimit = defaultMaxAutoFixLimit
	}
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.api = newAPIMetrics(registerer)
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	// Verification routes are limited per user and project once the body names the project.
	r.mux.HandleFunc("/v1/verify", r.audit("/v1/verify", r.requireAuth(r.handleVerify)))
	r.mux.HandleFunc("/v1/verify/stream", r.audit("/v1/verify/stream", r.requireAuth(r.handleVerifyStream)))
	r.mux.HandleFunc("/v1/feedback", r.audit("/v1/feedback", r.requireAuth(r.handleFeedback)))
	r.mux.HandleFunc("/v1/sessions/", r.audit("/v1/sessions", r.handlerAuthRate("/v1/sessions", rateLimitUserWrite, rateWindowDefault, r.handleSessionSubroutes)))
	r.mux.HandleFunc("/v1/previews", r.audit("/v1/previews", r.handlerAuthRate("/v1/previews", rateLimitUserRead, rateWindowDefault, r.handlePreviews)))
	r.mux.HandleFunc("/v1/events/ws", r.audit("/v1/events/ws", r.handlerAuthRate("/v1/events/ws", rateLimitWebsocket, rateWindowRealtime, r.handleUserEventsWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := map[string]any{
		"sessions": map[string]any{"active": r.sessions.Active()},
	}
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  r.now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.api.request(route, status, recorder.kind, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)
		if recorder.kind != domain.KindNone {
			fields = append(fields, "error_kind", recorder.kind)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
	kind   domain.ErrorKind
}

func (sr *statusRecorder) noteErrorKind(kind domain.ErrorKind) {
	sr.kind = kind
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
