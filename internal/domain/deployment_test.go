package domain

import (
	"testing"
	"time"
)

func TestDeploymentRecordObserve(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := DeploymentRecord{ID: "dpl_1", URL: "https://dpl_1.preview.test", Status: DeploymentQueued, CreatedAt: created}

	rec.Observe(DeploymentBuilding, "", "", created.Add(time.Second))
	if rec.Status != DeploymentBuilding || rec.ReadyAt != nil {
		t.Fatalf("unexpected record after building %+v", rec)
	}
	if rec.URL != "https://dpl_1.preview.test" {
		t.Fatalf("empty url must not overwrite, got %q", rec.URL)
	}

	first := created.Add(5 * time.Second)
	rec.Observe(DeploymentReady, "https://app.preview.test", "", first)
	rec.Observe(DeploymentReady, "", "", first.Add(time.Minute))
	if rec.ReadyAt == nil || !rec.ReadyAt.Equal(first) {
		t.Fatalf("expected ReadyAt from first ready observation, got %v", rec.ReadyAt)
	}
	if rec.URL != "https://app.preview.test" {
		t.Fatalf("expected url updated, got %q", rec.URL)
	}
}

func TestDeploymentRecordObserveError(t *testing.T) {
	var rec DeploymentRecord
	rec.Observe(DeploymentError, "", "exit status 1", time.Now())
	if rec.Status != DeploymentError || rec.ErrorMessage != "exit status 1" || rec.ReadyAt != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}
