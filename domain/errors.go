package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation targets an id that does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable indicates a transient infrastructure failure of the remote
// store. Callers decide whether to retry.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError reports a missing or invalid field. It is raised at the
// mutation boundary before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
