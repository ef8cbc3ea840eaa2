package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an operation referenced a report or hotspot id
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent-update race detected by optimistic
	// versioning or the hotspot creation guard. Callers retry the whole
	// absorb operation.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable indicates a store I/O failure or timeout. Safe to
	// retry with backoff; never reported as a successful ingestion.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError describes a malformed or out-of-range field in a report
// submission. Validation errors are terminal: the submission is rejected
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
