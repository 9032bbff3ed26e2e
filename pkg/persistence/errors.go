// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrConnectorNotFound      = errors.New("connector not found")
	ErrActionNotFound         = errors.New("action not found")
	ErrCredentialNotFound     = errors.New("credential not found")
	ErrCredentialSetNotFound  = errors.New("credential set not found")
	ErrEventNotFound          = errors.New("event not found")
	ErrSequenceNotFound       = errors.New("sequence not found")
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrAsyncExecutionNotFound = errors.New("async execution not found")
)

// EntityError wraps storage errors with the operation and entity involved.
type EntityError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates an entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	for _, sentinel := range []error{
		ErrConnectorNotFound,
		ErrActionNotFound,
		ErrCredentialNotFound,
		ErrCredentialSetNotFound,
		ErrEventNotFound,
		ErrSequenceNotFound,
		ErrExecutionNotFound,
		ErrAsyncExecutionNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}
