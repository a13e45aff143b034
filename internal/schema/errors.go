package schema

import (
	"errors"
	"fmt"
)

// Common schema validation errors
var (
	// ErrNoFields is returned when an output schema declares no columns.
	ErrNoFields = errors.New("output schema has no fields")

	// ErrBadFieldType is returned when a field declares an unsupported type.
	ErrBadFieldType = errors.New("unsupported field type")

	// ErrDuplicateField is returned when two fields share a name.
	ErrDuplicateField = errors.New("duplicate field name")

	// ErrNotObject is returned when the model payload is not a JSON object
	// where one is required.
	ErrNotObject = errors.New("payload is not a JSON object")

	// ErrMissingTable is returned when the payload has no "table" array.
	ErrMissingTable = errors.New(`payload is missing the "table" array`)

	// ErrUnknownColumn is returned when a row carries a column the schema
	// does not declare.
	ErrUnknownColumn = errors.New("row contains a column not declared in the schema")

	// ErrMissingColumn is returned when a row is missing a required column.
	ErrMissingColumn = errors.New("row is missing a required column")

	// ErrBadValue is returned when a cell value cannot be coerced to the
	// declared field type.
	ErrBadValue = errors.New("value does not match the declared field type")
)

// SchemaError wraps errors with context about which schema operation failed.
type SchemaError struct {
	// Op is the operation that failed (e.g., "Compile", "ParseTable").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("schema: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("schema: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *SchemaError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSchemaError creates a new SchemaError with the specified operation and underlying error.
func NewSchemaError(op string, err error, details string) *SchemaError {
	return &SchemaError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapSchemaError wraps an error as a SchemaError if it isn't already one.
func WrapSchemaError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return err // Already wrapped
	}

	return NewSchemaError(op, err, details)
}

// ValidationError pinpoints a single cell that failed validation.
type ValidationError struct {
	Row     int
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error at row %d, field '%s': %s (value: %v)", e.Row, e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(row int, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Row:     row,
		Field:   field,
		Value:   value,
		Message: message,
	}
}
