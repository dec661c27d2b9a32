// Package session mirrors running verifications for progress reporting and cancellation.
package session

import (
	"sync"
	"time"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/preview"
)

const (
	defaultSubscriberBuffer = 64
	maxHistory              = 256
)

// Snapshot is the latest known state of a session.
type Snapshot struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id,omitempty"`
	Phase           domain.Phase   `json:"phase"`
	Message         string         `json:"message,omitempty"`
	DeploymentID    string         `json:"deployment_id,omitempty"`
	AutoFixAttempts int            `json:"auto_fix_attempts"`
	PollAttempt     int            `json:"poll_attempt,omitempty"`
	PollMax         int            `json:"poll_max,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Result          *domain.Result `json:"result,omitempty"`
}

// Done reports whether the session has emitted its terminal event.
func (s Snapshot) Done() bool {
	return s.Result != nil
}

// Tracker records a session's events and fans them out to subscribers.
// Publish never blocks; a subscriber that falls behind loses progress events
// but always receives the terminal event.
type Tracker struct {
	mu         sync.Mutex
	state      Snapshot
	history    []preview.Event
	subs       map[int]chan preview.Event
	nextSub    int
	fixPending bool
	closed     bool
	done       chan struct{}
}

var _ preview.Observer = (*Tracker)(nil)

// NewTracker creates a tracker for session id.
func NewTracker(id, userID string, startedAt time.Time) *Tracker {
	return &Tracker{
		state: Snapshot{
			SessionID: id,
			UserID:    userID,
			Phase:     domain.PhaseIdle,
			StartedAt: startedAt,
			UpdatedAt: startedAt,
		},
		subs: make(map[int]chan preview.Event),
		done: make(chan struct{}),
	}
}

// ID returns the session id.
func (t *Tracker) ID() string {
	return t.state.SessionID
}

// Publish records e. Events after the terminal one are dropped.
func (t *Tracker) Publish(e preview.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.apply(e)
	if len(t.history) == maxHistory {
		copy(t.history, t.history[1:])
		t.history = t.history[:maxHistory-1]
	}
	t.history = append(t.history, e)

	for _, ch := range t.subs {
		deliver(ch, e, e.Terminal())
	}
	if e.Terminal() {
		t.closed = true
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
		close(t.done)
	}
}

func (t *Tracker) apply(e preview.Event) {
	s := &t.state
	if e.Phase != "" {
		s.Phase = e.Phase
	}
	if e.Message != "" {
		s.Message = e.Message
	}
	if e.DeploymentID != "" {
		s.DeploymentID = e.DeploymentID
	}
	if !e.At.IsZero() {
		s.UpdatedAt = e.At
	}
	switch e.Type {
	case preview.EventProgress:
		s.PollAttempt = e.PollAttempt
		s.PollMax = e.PollMax
	case preview.EventPhase:
		s.PollAttempt, s.PollMax = 0, 0
	case preview.EventComplete, preview.EventError:
		if e.Result != nil {
			r := *e.Result
			s.Result = &r
			s.AutoFixAttempts = r.AutoFixAttempts
		}
	}
	switch {
	case e.Type == preview.EventFix && e.Fix != nil && !e.Fix.Empty():
		t.fixPending = true
	case e.Type == preview.EventPhase && e.Phase == domain.PhaseUploading && t.fixPending:
		s.AutoFixAttempts++
		t.fixPending = false
	}
}

// deliver sends without blocking. Terminal events evict the oldest buffered
// event when the subscriber is full.
func deliver(ch chan preview.Event, e preview.Event, mustDeliver bool) {
	select {
	case ch <- e:
		return
	default:
	}
	if !mustDeliver {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}

// Subscribe returns a channel that first replays the recorded history and then
// receives live events until the terminal event, after which it is closed.
// The returned func unsubscribes early.
func (t *Tracker) Subscribe(buffer int) (<-chan preview.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size := buffer
	if len(t.history) > size {
		size = len(t.history)
	}
	ch := make(chan preview.Event, size)
	for _, e := range t.history {
		ch <- e
	}
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			close(sub)
			delete(t.subs, id)
		}
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// Done is closed once the terminal event has been published.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}
