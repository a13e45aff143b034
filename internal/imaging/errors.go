package imaging

import (
	"errors"
	"fmt"
)

// Common image preparation errors
var (
	// ErrUnreadable is returned when the input file cannot be opened or
	// parsed.
	ErrUnreadable = errors.New("unreadable or corrupted input document")

	// ErrNoPages is returned when the document parses but contains zero
	// pages. An empty document is never an empty success.
	ErrNoPages = errors.New("document contains no pages")

	// ErrPageOutOfRange is returned when the requested start page lies
	// beyond the last page.
	ErrPageOutOfRange = errors.New("start page is beyond the last page")

	// ErrNoPageImage is returned when a selected page carries no embedded
	// raster image. Scanned documents embed one scan per page; pages
	// without one cannot be prepared (vector rendering is not supported).
	ErrNoPageImage = errors.New("page has no embedded raster image")

	// ErrUnsupportedImage is returned when a page scan uses an image
	// format that cannot be decoded.
	ErrUnsupportedImage = errors.New("embedded image format is not supported")
)

// ImagingError wraps errors with context about the preparation failure.
type ImagingError struct {
	// Op is the operation that failed (e.g., "Pages", "decodePage").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// Page is the 1-based page number involved, when known.
	Page int
}

// Error implements the error interface.
func (e *ImagingError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("imaging: %s failed on page %d: %v", e.Op, e.Page, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("imaging: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("imaging: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ImagingError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *ImagingError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewImagingError creates a new ImagingError with the specified operation and underlying error.
func NewImagingError(op string, err error, details string) *ImagingError {
	return &ImagingError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// NewPageError creates an ImagingError tied to a specific page.
func NewPageError(op string, err error, page int) *ImagingError {
	return &ImagingError{
		Op:   op,
		Err:  err,
		Page: page,
	}
}

// WrapImagingError wraps an error as an ImagingError if it isn't already one.
func WrapImagingError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var imgErr *ImagingError
	if errors.As(err, &imgErr) {
		return err // Already wrapped
	}

	return NewImagingError(op, err, details)
}
