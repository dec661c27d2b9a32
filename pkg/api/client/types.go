package client

import "time"

// File is one generated source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BuildSettings override the inferred build profile.
type BuildSettings struct {
	Framework       string `json:"framework,omitempty"`
	InstallCommand  string `json:"install_command,omitempty"`
	BuildCommand    string `json:"build_command,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`
}

// VerifyInput is the payload of a verification request.
type VerifyInput struct {
	Files              []File        `json:"files"`
	ProjectID          string        `json:"project_id,omitempty"`
	Name               string        `json:"name,omitempty"`
	Settings           BuildSettings `json:"settings"`
	MaxAutoFixAttempts int           `json:"max_auto_fix_attempts,omitempty"`
	DisableAutoFix     bool          `json:"disable_auto_fix,omitempty"`
	Async              bool          `json:"async,omitempty"`
}

// FeedbackInput is the payload of a feedback request.
type FeedbackInput struct {
	Files      []File        `json:"files"`
	Feedback   string        `json:"feedback"`
	ContextURL string        `json:"context_url,omitempty"`
	ProjectID  string        `json:"project_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Settings   BuildSettings `json:"settings"`
}

// Fix describes one applied repair.
type Fix struct {
	AttemptNumber    int      `json:"attempt_number"`
	SignalKind       string   `json:"signal_kind"`
	InputSignal      string   `json:"input_signal"`
	ChangedFilePaths []string `json:"changed_file_paths"`
	CreatedFilePaths []string `json:"created_file_paths,omitempty"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation"`
	Additions        int      `json:"additions"`
	Deletions        int      `json:"deletions"`
}

// Result is the definitive outcome of a verification.
type Result struct {
	SessionID       string       `json:"session_id"`
	Success         bool         `json:"success"`
	PreviewURL      string       `json:"preview_url,omitempty"`
	DeploymentID    string       `json:"deployment_id,omitempty"`
	BuildTimeMs     int64        `json:"build_time_ms,omitempty"`
	AutoFixAttempts int          `json:"auto_fix_attempts"`
	Error           string       `json:"error,omitempty"`
	ErrorKind       string       `json:"error_kind,omitempty"`
	Logs            string       `json:"logs,omitempty"`
	Files           []File       `json:"files"`
	Fixes           []Fix        `json:"fixes,omitempty"`
	Deployments     []Deployment `json:"deployments,omitempty"`
}

// Deployment is one build attempt of a session. Only the last one of a
// successful session is kept by the provider.
type Deployment struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ReadyAt      *time.Time `json:"ready_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	BuildLogs    string     `json:"build_logs,omitempty"`
}

// FeedbackResult reports a feedback change and its verification.
type FeedbackResult struct {
	SessionID    string  `json:"session_id"`
	Applied      bool    `json:"applied"`
	Fix          Fix     `json:"fix"`
	Files        []File  `json:"files"`
	Verification *Result `json:"verification,omitempty"`
	Error        string  `json:"error,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
}

// Event is one progress notification of a streamed session.
type Event struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	Phase        string    `json:"phase"`
	Message      string    `json:"message,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	PollAttempt  int       `json:"poll_attempt,omitempty"`
	PollMax      int       `json:"poll_max,omitempty"`
	Fix          *Fix      `json:"fix,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	At           time.Time `json:"at"`
}

// Terminal reports whether e is the last event of its session.
func (e Event) Terminal() bool {
	return e.Type == "complete" || e.Type == "error"
}

// Snapshot is the latest known state of a session.
type Snapshot struct {
	SessionID       string    `json:"session_id"`
	Phase           string    `json:"phase"`
	Message         string    `json:"message,omitempty"`
	DeploymentID    string    `json:"deployment_id,omitempty"`
	AutoFixAttempts int       `json:"auto_fix_attempts"`
	PollAttempt     int       `json:"poll_attempt,omitempty"`
	PollMax         int       `json:"poll_max,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Result          *Result   `json:"result,omitempty"`
}

// Preview is a stored successful verification.
type Preview struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	ProjectID       string    `json:"project_id,omitempty"`
	DeploymentID    string    `json:"deployment_id"`
	URL             string    `json:"url"`
	Files           []File    `json:"files"`
	Status          string    `json:"status"`
	AutoFixAttempts int       `json:"auto_fix_attempts"`
	BuildTimeMs     int64     `json:"build_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}
