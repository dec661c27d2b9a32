package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/previewd/internal/preview"
)

const defaultRetention = 15 * time.Minute

// RunFunc performs the work of one session, publishing to obs.
type RunFunc func(ctx context.Context, sessionID string, obs preview.Observer)

type entry struct {
	tracker    *Tracker
	cancel     context.CancelFunc
	finishedAt time.Time
}

// Registry keeps running and recently finished sessions addressable by id.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*entry
	retention time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewRegistry keeps finished sessions for retention before forgetting them.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{
		sessions:  make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
}

// Start runs fn in its own goroutine with a context derived from ctx and
// returns the session's tracker immediately.
func (r *Registry) Start(ctx context.Context, userID string, fn RunFunc) *Tracker {
	r.Prune()

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	tracker := NewTracker(id, userID, r.now())
	e := &entry{tracker: tracker, cancel: cancel}

	r.mu.Lock()
	r.sessions[id] = e
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(runCtx, id, tracker)
		r.mu.Lock()
		e.finishedAt = r.now()
		r.mu.Unlock()
	}()
	return tracker
}

// Get returns the tracker for id.
func (r *Registry) Get(id string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// Cancel signals the session to stop. It reports false for unknown or already
// finished sessions.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-e.tracker.Done():
		return false
	default:
	}
	e.cancel()
	return true
}

// Active counts sessions that have not yet finished.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.sessions {
		if e.finishedAt.IsZero() {
			n++
		}
	}
	return n
}

// Prune forgets sessions that finished more than the retention period ago.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.retention)
	removed := 0
	for id, e := range r.sessions {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every running session and waits for them to return or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, e := range r.sessions {
		e.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
