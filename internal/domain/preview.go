package domain

import "time"

// PreviewStatus marks whether a stored preview is still served.
type PreviewStatus string

const (
	PreviewActive  PreviewStatus = "active"
	PreviewExpired PreviewStatus = "expired"
)

// PreviewRecord is the immutable audit summary of a successful verification.
type PreviewRecord struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	ProjectID       string        `json:"project_id,omitempty"`
	DeploymentID    string        `json:"deployment_id"`
	URL             string        `json:"url"`
	Files           FileSet       `json:"files"`
	Status          PreviewStatus `json:"status"`
	AutoFixAttempts int           `json:"auto_fix_attempts"`
	BuildTimeMs     int64         `json:"build_time_ms"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}
