package domain

import "time"

// Phase is the orchestrator state exposed to callers.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseBuilding   Phase = "building"
	PhaseAutoFixing Phase = "auto-fixing"
	PhaseReady      Phase = "ready"
	PhaseError      Phase = "error"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further transitions occur from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReady, PhaseError, PhaseCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal phase change.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseError || to == PhaseCancelled {
		return true
	}
	switch from {
	case PhaseIdle:
		return to == PhaseUploading
	case PhaseUploading:
		return to == PhaseBuilding
	case PhaseBuilding:
		return to == PhaseReady || to == PhaseAutoFixing
	case PhaseAutoFixing:
		return to == PhaseUploading
	default:
		return false
	}
}

// PreviewSession is the orchestrator-owned state of one verification request.
// It is never shared between goroutines.
type PreviewSession struct {
	ID              string
	UserID          string
	ProjectID       string
	Phase           Phase
	CurrentFiles    FileSet
	AutoFixAttempts int
	PreviewURL      string
	DeploymentID    string
	BuildTimeMs     int64
	LastError       error
	LastLogs        string
	StartedAt       time.Time
	Fixes           []FixAttempt
	// Deployments lists every deployment of the session in creation order;
	// at most the last one is live.
	Deployments     []DeploymentRecord
}

// Result is the single definitive outcome of a verification request.
type Result struct {
	SessionID       string             `json:"session_id"`
	Success         bool               `json:"success"`
	PreviewURL      string             `json:"preview_url,omitempty"`
	DeploymentID    string             `json:"deployment_id,omitempty"`
	BuildTimeMs     int64              `json:"build_time_ms,omitempty"`
	AutoFixAttempts int                `json:"auto_fix_attempts"`
	Error           string             `json:"error,omitempty"`
	ErrorKind       ErrorKind          `json:"error_kind,omitempty"`
	Logs            string             `json:"logs,omitempty"`
	Files           FileSet            `json:"files"`
	Fixes           []FixAttempt       `json:"fixes,omitempty"`
	Deployments     []DeploymentRecord `json:"deployments,omitempty"`
}
