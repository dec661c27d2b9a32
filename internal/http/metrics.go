package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/previewd/internal/domain"
)

// Sync verification holds the request open for the whole session, so the
// upper buckets reach the poll deadline.
var latencyBuckets = []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600}

// apiMetrics counts requests by route, status and the error kind the handler
// reported. A verification that ends in build_failed is a 200 with
// error_kind=build_failed.
type apiMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
}

func newAPIMetrics(registerer prometheus.Registerer) *apiMetrics {
	m := &apiMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route, status and error kind.",
		}, []string{"route", "status", "error_kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "previewd",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   latencyBuckets,
		}, []string{"route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by route and key scope.",
		}, []string{"route", "scope"}),
	}
	m.requests = reuse(registerer, m.requests)
	m.latency = reuse(registerer, m.latency)
	m.rateLimited = reuse(registerer, m.rateLimited)
	return m
}

func reuse[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *apiMetrics) request(route string, status int, kind domain.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status), string(kind)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *apiMetrics) limited(route, scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route, scope).Inc()
}

type errorKindNoter interface {
	noteErrorKind(domain.ErrorKind)
}

// noteErrorKind attaches kind to the request's metrics and audit log line.
func noteErrorKind(w http.ResponseWriter, kind domain.ErrorKind) {
	if n, ok := w.(errorKindNoter); ok {
		n.noteErrorKind(kind)
	}
}
