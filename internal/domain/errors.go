package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by every component of the verification engine.
var (
	ErrProviderUnavailable = errors.New("deployment provider unavailable")
	ErrQuotaExceeded       = errors.New("deployment quota exceeded")
	ErrInvalidInput        = errors.New("invalid input")
	ErrBuildFailed         = errors.New("build failed")
	ErrTimeout             = errors.New("deployment timed out")
	ErrRepairExhausted     = errors.New("repair exhausted")
	ErrCancelled           = errors.New("verification cancelled")
)

// ErrorKind is the stable, serialisable name of a taxonomy error.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindBuildFailed         ErrorKind = "build_failed"
	KindTimeout             ErrorKind = "timeout"
	KindRepairExhausted     ErrorKind = "repair_exhausted"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal"
)

// KindOf classifies err. Context cancellation maps to KindCancelled.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrBuildFailed):
		return KindBuildFailed
	case errors.Is(err, ErrRepairExhausted):
		return KindRepairExhausted
	default:
		return KindInternal
	}
}

// Repairable reports whether the auto-fix loop may act on err. Only build
// errors and poll timeouts are code-correctness signals.
func Repairable(err error) bool {
	switch KindOf(err) {
	case KindBuildFailed, KindTimeout:
		return true
	default:
		return false
	}
}
