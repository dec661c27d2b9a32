package preview

import (
	"time"

	"github.com/splax/previewd/internal/domain"
)

// EventType names what an Event reports.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventFix      EventType = "fix"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is published to an Observer as a verification runs. Exactly one
// EventComplete or EventError closes every session.
type Event struct {
	Type         EventType          `json:"type"`
	SessionID    string             `json:"session_id"`
	Phase        domain.Phase       `json:"phase"`
	Message      string             `json:"message,omitempty"`
	DeploymentID string             `json:"deployment_id,omitempty"`
	Attempt      int                `json:"attempt,omitempty"`
	PollAttempt  int                `json:"poll_attempt,omitempty"`
	PollMax      int                `json:"poll_max,omitempty"`
	Fix          *domain.FixAttempt `json:"fix,omitempty"`
	Result       *domain.Result     `json:"result,omitempty"`
	At           time.Time          `json:"at"`
}

// Terminal reports whether e closes its session.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Observer receives events. Publish must not block; the orchestrator does not
// depend on anything being subscribed.
type Observer interface {
	Publish(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Publish calls f.
func (f ObserverFunc) Publish(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Publish(Event) {}

// Observers fans each event out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	list := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.Publish(e)
		}
	})
}
