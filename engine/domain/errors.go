package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyReport      = errors.New("report has no text content")
	ErrMissingID        = errors.New("report id is empty")
	ErrMissingSource    = errors.New("report source is empty")
	ErrMissingTimestamp = errors.New("report timestamp is zero")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrLimitOutOfRange  = errors.New("limit out of range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
