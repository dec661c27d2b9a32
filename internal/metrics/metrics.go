// Package metrics exposes Prometheus collectors for verification sessions.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/preview"
)

const namespace = "previewd"

var (
	durationBuckets = []float64{5, 15, 30, 60, 120, 240, 480, 900}
	attemptBuckets  = []float64{0, 1, 2, 3, 4, 5}
)

// Metrics records orchestrator and maintenance measurements.
type Metrics struct {
	verifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	autoFixes     prometheus.Histogram
	created       prometheus.Counter
	deleted       *prometheus.CounterVec
	repairs       *prometheus.CounterVec
	activeGauge   prometheus.Gauge
}

var _ preview.Recorder = (*Metrics)(nil)

// New registers collectors on registerer, reusing any already registered.
// A nil registerer uses the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Finished verification sessions by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Wall time of verification sessions.",
			Buckets:   durationBuckets,
		}, []string{"outcome"}),
		autoFixes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auto_fix_attempts",
			Help:      "Repairs applied per finished session.",
			Buckets:   attemptBuckets,
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_created_total",
			Help:      "Deployments accepted by the provider.",
		}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_deleted_total",
			Help:      "Deployment deletions by result.",
		}, []string{"ok"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Repair calls by signal and outcome.",
		}, []string{"signal", "outcome"}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Verification sessions currently running.",
		}),
	}
	m.verifications = register(registerer, m.verifications)
	m.duration = register(registerer, m.duration)
	m.autoFixes = register(registerer, m.autoFixes)
	m.created = register(registerer, m.created)
	m.deleted = register(registerer, m.deleted)
	m.repairs = register(registerer, m.repairs)
	m.activeGauge = register(registerer, m.activeGauge)
	return m
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
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

// VerificationFinished records a terminal result.
func (m *Metrics) VerificationFinished(result domain.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !result.Success {
		outcome = "failure"
		if result.ErrorKind == domain.KindCancelled {
			outcome = "cancelled"
		}
	}
	m.verifications.WithLabelValues(outcome, string(result.ErrorKind)).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.autoFixes.Observe(float64(result.AutoFixAttempts))
}

// DeploymentCreated counts an accepted deployment.
func (m *Metrics) DeploymentCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// DeploymentDeleted counts a deletion attempt.
func (m *Metrics) DeploymentDeleted(ok bool) {
	if m == nil {
		return
	}
	m.deleted.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// RepairFinished counts a repair call. changed is the number of files the
// repair modified or created.
func (m *Metrics) RepairFinished(signal domain.SignalKind, kind domain.ErrorKind, changed int) {
	if m == nil {
		return
	}
	outcome := "applied"
	switch {
	case kind != domain.KindNone:
		outcome = string(kind)
	case changed == 0:
		outcome = "no_change"
	}
	m.repairs.WithLabelValues(string(signal), outcome).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeGauge.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeGauge.Dec()
}
