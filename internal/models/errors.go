package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed input or definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown scenario, stream or event.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports an activation attempt while another scenario is in flight.
type ConflictError struct {
	BlockingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scenario %s is already active or settling", e.BlockingID)
}

// InternalError wraps an unexpected failure inside the engine.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError and returns the blocking id.
func IsConflict(err error) (string, bool) {
	var target *ConflictError
	if errors.As(err, &target) {
		return target.BlockingID, true
	}
	return "", false
}
