// Package apperror defines the error taxonomy shared by the sync engine.
//
// Every error returned from a public operation wraps exactly one of the
// sentinels below, so callers classify with errors.Is regardless of how many
// layers added context on the way up.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing transaction, reward, user or session.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an invalid state transition, duplicate claim or address mismatch.
	ErrConflict = errors.New("conflict")
	// ErrExpired marks a reward past its claim window.
	ErrExpired = errors.New("resource expired")
	// ErrLedgerUnavailable marks transient network or indexing delays.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerRejected marks a transaction the ledger executed and rejected.
	ErrLedgerRejected = errors.New("ledger rejected transaction")
	// ErrConfiguration marks a missing capability such as the admin signing identity.
	ErrConfiguration = errors.New("configuration error")
)

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

func Expired(format string, args ...any) error {
	return wrap(ErrExpired, format, args...)
}

func LedgerUnavailable(format string, args ...any) error {
	return wrap(ErrLedgerUnavailable, format, args...)
}

func LedgerRejected(format string, args ...any) error {
	return wrap(ErrLedgerRejected, format, args...)
}

func Configuration(format string, args ...any) error {
	return wrap(ErrConfiguration, format, args...)
}

// Retryable reports whether err is transient and should be absorbed by a retry loop.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable)
}

// Kind returns a short stable label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrLedgerRejected):
		return "ledger_rejected"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}
