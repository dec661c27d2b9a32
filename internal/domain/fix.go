package domain

// SignalKind identifies what prompted a repair.
type SignalKind string

const (
	SignalBuildFailure SignalKind = "build_failure"
	SignalUserFeedback SignalKind = "user_feedback"
)

// FixAttempt is the outcome of one repair call after reconciliation.
// An empty ChangedFilePaths means the repair gave up.
type FixAttempt struct {
	AttemptNumber    int        `json:"attempt_number"`
	SignalKind       SignalKind `json:"signal_kind"`
	InputSignal      string     `json:"input_signal"`
	ChangedFilePaths []string   `json:"changed_file_paths"`
	CreatedFilePaths []string   `json:"created_file_paths,omitempty"`
	Confidence       float64    `json:"confidence"`
	Explanation      string     `json:"explanation"`
	Additions        int        `json:"additions"`
	Deletions        int        `json:"deletions"`
}

// Empty reports whether the repair produced no usable change.
func (f FixAttempt) Empty() bool {
	return len(f.ChangedFilePaths) == 0
}
