package domain

import "time"

// DeploymentStatus is the remote lifecycle state of one deployment.
type DeploymentStatus string

const (
	DeploymentQueued   DeploymentStatus = "queued"
	DeploymentBuilding DeploymentStatus = "building"
	DeploymentReady    DeploymentStatus = "ready"
	DeploymentError    DeploymentStatus = "error"
)

// Terminal reports whether no further status change is expected.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentReady || s == DeploymentError
}

// DeploymentRecord tracks a single remote build+hosting attempt.
type DeploymentRecord struct {
	ID           string           `json:"id"`
	URL          string           `json:"url"`
	Status       DeploymentStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	ReadyAt      *time.Time       `json:"ready_at,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	BuildLogs    string           `json:"build_logs,omitempty"`
}

// Observe applies one status observation. The first ready observation stamps ReadyAt.
func (r *DeploymentRecord) Observe(status DeploymentStatus, url, errorMessage string, at time.Time) {
	if status != "" {
		r.Status = status
	}
	if url != "" {
		r.URL = url
	}
	if errorMessage != "" {
		r.ErrorMessage = errorMessage
	}
	if status == DeploymentReady && r.ReadyAt == nil {
		ready := at
		r.ReadyAt = &ready
	}
}
