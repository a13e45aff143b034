package store

import (
	"errors"
	"fmt"
)

// Common store errors
var (
	// ErrNotFound is returned when a named record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when creating a record whose name is
	// already taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidName is returned for names that are empty, too long or
	// not filesystem-safe.
	ErrInvalidName = errors.New("invalid name: use letters, digits, dot, dash or underscore")

	// ErrPromptInUse is returned when deleting a prompt that projects
	// still reference. The error details name the projects.
	ErrPromptInUse = errors.New("prompt is referenced by existing projects")

	// ErrSchemaInUse is returned when deleting a schema that projects
	// still reference. The error details name the projects.
	ErrSchemaInUse = errors.New("schema is referenced by existing projects")
)

// StoreError wraps errors with context about the failed store operation.
type StoreError struct {
	// Op is the operation that failed (e.g., "CreateProject", "AddFile").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("store: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("store: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new StoreError with the specified operation and underlying error.
func NewStoreError(op string, err error, details string) *StoreError {
	return &StoreError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapStoreError wraps an error as a StoreError if it isn't already one.
func WrapStoreError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err // Already wrapped
	}

	return NewStoreError(op, err, details)
}
