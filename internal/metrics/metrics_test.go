package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/splax/previewd/internal/domain"
)

func TestVerificationOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.VerificationFinished(domain.Result{Success: true, AutoFixAttempts: 1}, 30*time.Second)
	m.VerificationFinished(domain.Result{ErrorKind: domain.KindBuildFailed}, time.Minute)
	m.VerificationFinished(domain.Result{ErrorKind: domain.KindCancelled}, time.Second)

	if v := testutil.ToFloat64(m.verifications.WithLabelValues("success", "")); v != 1 {
		t.Fatalf("expected 1 success, got %v", v)
	}
	if v := testutil.ToFloat64(m.verifications.WithLabelValues("failure", "build_failed")); v != 1 {
		t.Fatalf("expected 1 build failure, got %v", v)
	}
	if v := testutil.ToFloat64(m.verifications.WithLabelValues("cancelled", "cancelled")); v != 1 {
		t.Fatalf("expected 1 cancellation, got %v", v)
	}
	if n := testutil.CollectAndCount(m.duration); n != 3 {
		t.Fatalf("expected 3 duration series, got %d", n)
	}
}

func TestDeploymentAndRepairCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.DeploymentCreated()
	m.DeploymentCreated()
	m.DeploymentDeleted(true)
	m.DeploymentDeleted(false)
	m.RepairFinished(domain.SignalBuildFailure, domain.KindNone, 2)
	m.RepairFinished(domain.SignalBuildFailure, domain.KindNone, 0)
	m.RepairFinished(domain.SignalUserFeedback, domain.KindRepairExhausted, 0)

	if v := testutil.ToFloat64(m.created); v != 2 {
		t.Fatalf("expected 2 created, got %v", v)
	}
	if v := testutil.ToFloat64(m.deleted.WithLabelValues("false")); v != 1 {
		t.Fatalf("expected 1 failed delete, got %v", v)
	}
	if v := testutil.ToFloat64(m.repairs.WithLabelValues("build_failure", "applied")); v != 1 {
		t.Fatalf("expected 1 applied repair, got %v", v)
	}
	if v := testutil.ToFloat64(m.repairs.WithLabelValues("build_failure", "no_change")); v != 1 {
		t.Fatalf("expected 1 no-change repair, got %v", v)
	}
	if v := testutil.ToFloat64(m.repairs.WithLabelValues("user_feedback", "repair_exhausted")); v != 1 {
		t.Fatalf("expected 1 exhausted repair, got %v", v)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.DeploymentCreated()
	second.DeploymentCreated()

	if v := testutil.ToFloat64(first.created); v != 2 {
		t.Fatalf("expected shared counter value 2, got %v", v)
	}
}

func TestSessionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	if v := testutil.ToFloat64(m.activeGauge); v != 1 {
		t.Fatalf("expected 1 active session, got %v", v)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.DeploymentCreated()
	m.SessionStarted()
	m.VerificationFinished(domain.Result{}, 0)
}
