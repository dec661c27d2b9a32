package preview

import (
	"time"

	"github.com/splax/previewd/internal/domain"
)

// Recorder receives orchestrator measurements.
type Recorder interface {
	VerificationFinished(result domain.Result, elapsed time.Duration)
	DeploymentCreated()
	DeploymentDeleted(ok bool)
	RepairFinished(signal domain.SignalKind, kind domain.ErrorKind, changed int)
}

type nopRecorder struct{}

func (nopRecorder) VerificationFinished(domain.Result, time.Duration) {}
func (nopRecorder) DeploymentCreated() {}
func (nopRecorder) DeploymentDeleted(bool) {}
func (nopRecorder) RepairFinished(domain.SignalKind, domain.ErrorKind, int) {}
