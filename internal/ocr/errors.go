package ocr

import (
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrAPIKeyMissing is returned when no OpenAI API key is configured or the
	// configured key is rejected by the API.
	ErrAPIKeyMissing = errors.New("missing or invalid OpenAI API key: set OPENAI_API_KEY environment variable")

	// ErrQuotaExceeded is returned when the API reports a rate limit or quota
	// violation that persists after client-side throttling.
	ErrQuotaExceeded = errors.New("OpenAI API quota or rate limit exceeded")

	// ErrAPIUnavailable is returned for transport failures and server-side
	// errors (HTTP 5xx) from the OpenAI API.
	ErrAPIUnavailable = errors.New("OpenAI API unavailable")

	// ErrEmptyResponse is returned when the model produces no completion
	// choices for a request.
	ErrEmptyResponse = errors.New("model returned no response choices")

	// ErrMalformedResponse is returned when the model output cannot be parsed
	// into the requested table structure.
	ErrMalformedResponse = errors.New("model response does not match the requested table structure")

	// ErrJobNotFound is returned when a batch job ID is unknown to the API.
	ErrJobNotFound = errors.New("batch job not found")

	// ErrJobNotFinished is returned when batch results are requested before
	// the job has reached a terminal state.
	ErrJobNotFinished = errors.New("batch job has not finished yet")

	// ErrJobFailed is returned when a batch job terminates without producing
	// an output file.
	ErrJobFailed = errors.New("batch job failed without producing output")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "ExtractPages", "SubmitBatch").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	return NewOCRError(op, err, details)
}
