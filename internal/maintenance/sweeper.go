// Package maintenance expires stale previews and tears down their deployments.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/previewd/internal/domain"
)

const (
	defaultInterval = 5 * time.Minute
	sweepTimeout    = time.Minute
	lockKey         = "previewd:maintenance:expiry"
)

// Store marks expired preview records.
type Store interface {
	ExpireOlderThan(ctx context.Context, ts time.Time) ([]domain.PreviewRecord, error)
}

// Deleter removes deployments. Failures are reported as false.
type Deleter interface {
	Delete(ctx context.Context, id string) bool
}

// Locker grants exclusive sweep rights for ttl. Acquire reports false when
// another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Sweeper periodically expires previews past their TTL.
type Sweeper struct {
	store    Store
	deleter  Deleter
	locker   Locker
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	deleted  func(ok bool)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker makes the sweeper coordinate with other replicas.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) {
		s.locker = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithDeleteHook is called after every deployment deletion attempt.
func WithDeleteHook(fn func(ok bool)) Option {
	return func(s *Sweeper) {
		s.deleted = fn
	}
}

// New constructs a Sweeper. deleter may be nil, in which case records are
// only marked expired.
func New(store Store, deleter Deleter, logger *slog.Logger, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Sweeper{
		store:    store,
		deleter:  deleter,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		deleted:  func(bool) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "maintenance")
	return s
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)
	s.runIteration(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Sweeper) runIteration(parent context.Context) {
	timeout := sweepTimeout
	if s.interval < timeout {
		timeout = s.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Warn("expiry sweep failed", "error", err)
	}
}

// SweepOnce expires every preview past its TTL and deletes the backing
// deployments. It returns the number of records expired; zero when another
// replica holds the sweep lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, lockKey, s.interval)
		if err != nil {
			s.logger.Warn("sweep lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			s.logger.Debug("sweep lock held elsewhere")
			return 0, nil
		}
	}

	expired, err := s.store.ExpireOlderThan(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, rec := range expired {
		if s.deleter == nil || rec.DeploymentID == "" {
			continue
		}
		ok := s.deleter.Delete(ctx, rec.DeploymentID)
		s.deleted(ok)
		if !ok {
			s.logger.Warn("expired deployment not deleted", "preview_id", rec.ID, "deployment_id", rec.DeploymentID)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("previews expired", "count", len(expired))
	}
	return len(expired), nil
}
