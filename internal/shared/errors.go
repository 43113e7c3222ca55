package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks authorization denials.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or unknown actor token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a duplicate entry.
	ErrConflict = errors.New("conflict")
	// ErrTransient indicates a collaborator (store, feed, broker) could not be reached.
	ErrTransient = errors.New("collaborator unavailable")
)

// NotFoundError reports a missing actor, role or record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries field level details of a rejected payload.
type ValidationError struct {
	Details map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e.Details))
	for field := range e.Details {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Details[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Transient wraps a collaborator failure so callers can tell it apart from
// domain errors while keeping the original cause.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
