package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers classify failures with
// errors.Is rather than by inspecting messages.
var (
	// ErrNotFound means the session or incident is absent. Expired sessions
	// are reported the same way so callers cannot probe for existence.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned before any store access for malformed
	// incident IDs, IP addresses, enum values, or missing fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict marks a state transition that cannot happen, such as
	// resolving an incident twice. Most public operations report conflicts as
	// a false result instead of returning this error.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable wraps any backing store failure. The default
	// posture for callers is to deny the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError carries the failing store operation and the driver error. It
// matches ErrStoreUnavailable and the underlying error through errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the driver error.
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Invalid returns an ErrInvalidInput wrapped with a formatted reason.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
