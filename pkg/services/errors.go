// Package services wires the domain together: action dispatch from rules
// and flow nodes, inbound event intake, manual sequence execution and the
// async completion hook.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors, mapped to 4xx responses by the web layer.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEventNameRequired    = errors.New("event name is required")
	ErrSequenceInactive     = errors.New("sequence is not active")
	ErrPayloadSchemaInvalid = errors.New("payload does not match event schema")

	// Business logic conflicts (409 Conflict).
	ErrExecutionAlreadyTerminal = errors.New("async execution already terminal")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEventNameRequired) ||
		errors.Is(err, ErrSequenceInactive) ||
		errors.Is(err, ErrPayloadSchemaInvalid)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionAlreadyTerminal)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
