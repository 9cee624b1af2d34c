package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("service unavailable")
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrPrecondition marks operator actions refused before any state change
	// (no agent selected, no groups assigned, no contacts available).
	ErrPrecondition = errors.New("precondition failed")
	// ErrInsufficientCredits is the dialer's dedicated out-of-credits signal.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
