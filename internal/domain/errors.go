package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload marks a receipt payload that is missing required fields or carries
// malformed amounts. It is always wrapped with a description of the offending field.
var ErrInvalidPayload = errors.New("invalid receipt payload")

// FieldError describes one failed input rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed caller input. It never wraps a store error:
// validation always runs before any mutation.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func NewNotFoundError(resource, id string, err error) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id, Err: err}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError reports a state precondition that does not hold, e.g. paying out a reward
// that is not payable.
type ConflictError struct {
	Message string
	Details map[string]any
	Err     error
}

func NewConflictError(message string, details map[string]any, err error) *ConflictError {
	return &ConflictError{Message: message, Details: details, Err: err}
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return e.Err }
