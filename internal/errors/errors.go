package errors

import (
	stderrors "errors"
	"fmt"
)

// DocError is the structured error type for DocChat.
// It provides rich context for error handling, logging, and user presentation.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_201_EXTRACT_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Document, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DocError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DocError.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new DocError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocError from an existing error.
// The error's message becomes the DocError message.
func Wrap(code string, err error) *DocError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf creates a new DocError with a formatted message.
func Newf(code string, format string, args ...any) *DocError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// ExtractionError creates a document extraction error.
func ExtractionError(message string, cause error) *DocError {
	return New(ErrCodeExtractFailed, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// UpstreamError creates a transient upstream LLM error.
// Upstream errors are retryable.
func UpstreamError(message string, cause error) *DocError {
	return New(ErrCodeUpstreamLLM, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a DocError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsCode checks whether err (or anything it wraps) is a DocError
// carrying the given code.
func IsCode(err error, code string) bool {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// GetCode extracts the error code from a DocError anywhere in the chain.
// Returns empty string if no DocError is found.
func GetCode(err error) string {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocError anywhere in the chain.
// Returns empty string if no DocError is found.
func GetCategory(err error) Category {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Category
	}
	return ""
}
