package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedBackend is returned when a config names a library no adapter
// is registered for. Deterministic, never retried.
var ErrUnsupportedBackend = errors.New("unsupported backend library")

// UnavailableError wraps connection, auth, and rate-limit failures. These are
// transient: the runner retries them with backoff.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// MalformedOutputError means the backend responded but its payload could not
// be decoded into a generation. Deterministic for a given input, not retried.
type MalformedOutputError struct {
	Detail string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed backend output: %s", e.Detail)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsTimeout reports whether err is the unit deadline expiring.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
