package processor

import (
	"errors"
	"fmt"
)

// ProcessorError represents an error from the processor with additional
// context. The processor adds no sentinels of its own; the wrapped error
// is always one of the store, schema or ocr family errors and stays
// reachable through errors.Is and errors.As.
type ProcessorError struct {
	Op      string // The operation that failed
	Err     error  // The underlying error
	Details string // Additional error details
}

func (e *ProcessorError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("processor: %s failed: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("processor: %s failed: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

func (e *ProcessorError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProcessorError creates a new ProcessorError
func NewProcessorError(op string, err error, details string) *ProcessorError {
	return &ProcessorError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapProcessorError wraps an error with operation context
func WrapProcessorError(op string, err error, details string) *ProcessorError {
	var procErr *ProcessorError
	if errors.As(err, &procErr) {
		// Already wrapped
		return procErr
	}
	return NewProcessorError(op, err, details)
}
