package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/previewd/internal/domain"
)

const (
	DefaultPollInterval         = 2 * time.Second
	DefaultPollMaxAttempts      = 60
	DefaultMaxConsecutiveErrors = 3
)

// PollPolicy bounds how long Wait observes a deployment.
type PollPolicy struct {
	Interval             time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int
}

// DefaultPollPolicy polls every 2s for at most 60 attempts.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:             DefaultPollInterval,
		MaxAttempts:          DefaultPollMaxAttempts,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPollMaxAttempts
	}
	if p.MaxConsecutiveErrors <= 0 {
		p.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return p
}

// Ceiling is the longest Wait can take, excluding request latency.
func (p PollPolicy) Ceiling() time.Duration {
	p = p.withDefaults()
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Tick reports one poll observation.
type Tick struct {
	Attempt     int
	MaxAttempts int
	Status      Status
	Err         error
}

// Wait polls id until it reaches a terminal state.
//
// A ready deployment returns a nil error. An error state returns
// domain.ErrBuildFailed, an exhausted attempt budget returns domain.ErrTimeout,
// too many consecutive poll failures return domain.ErrProviderUnavailable and a
// done context returns domain.ErrCancelled.
func Wait(ctx context.Context, c Client, id string, policy PollPolicy, onTick func(Tick)) (Status, error) {
	policy = policy.withDefaults()
	var last Status
	consecutiveErrs := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		status, err := c.Poll(ctx, id)
		if onTick != nil {
			onTick(Tick{Attempt: attempt, MaxAttempts: policy.MaxAttempts, Status: status, Err: err})
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, fmt.Errorf("%w: %v", domain.ErrCancelled, ctxErr)
			}
			consecutiveErrs++
			if consecutiveErrs > policy.MaxConsecutiveErrors {
				if errors.Is(err, domain.ErrProviderUnavailable) || errors.Is(err, domain.ErrQuotaExceeded) {
					return last, err
				}
				return last, fmt.Errorf("%w: poll %s: %v", domain.ErrProviderUnavailable, id, err)
			}
		} else {
			consecutiveErrs = 0
			last = status
			switch status.State {
			case domain.DeploymentReady:
				return status, nil
			case domain.DeploymentError:
				msg := strings.TrimSpace(status.ErrorMessage)
				if msg == "" {
					msg = "deployment reported an error"
				}
				return status, fmt.Errorf("%w: %s", domain.ErrBuildFailed, msg)
			}
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, policy.Interval); err != nil {
			return last, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
	}
	return last, fmt.Errorf("%w: deployment %s not ready after %d polls", domain.ErrTimeout, id, policy.MaxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
