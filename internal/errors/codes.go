// Package errors provides structured error handling for DocChat.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document/extraction errors
//   - 3XX: Upstream service errors (embedder, LLM)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryDocument indicates document ingestion errors.
	CategoryDocument Category = "DOCUMENT"
	// CategoryUpstream indicates remote service errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeAPIKeyMissing  = "ERR_102_API_KEY_MISSING"
	ErrCodeAPIKeyRejected = "ERR_103_API_KEY_REJECTED"

	// Document errors (200-299)
	ErrCodeExtractFailed = "ERR_201_EXTRACT_FAILED"
	ErrCodeEmptyDocument = "ERR_202_EMPTY_DOCUMENT"

	// Upstream errors (300-399)
	ErrCodeModelUnavailable = "ERR_301_MODEL_UNAVAILABLE"
	ErrCodeEmbeddingFailed  = "ERR_302_EMBEDDING_FAILED"
	ErrCodeUpstreamLLM      = "ERR_303_UPSTREAM_LLM"
	ErrCodeUpstreamRejected = "ERR_304_UPSTREAM_REJECTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeIndexBuildFailed = "ERR_502_INDEX_BUILD_FAILED"
	ErrCodeUploadInProgress = "ERR_503_UPLOAD_IN_PROGRESS"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryDocument
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeModelUnavailable:
		// Health must report not-ready until the embedding model is reachable.
		return SeverityFatal
	case ErrCodeUpstreamLLM:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only transient upstream LLM failures (network, 5xx) are retried;
// API-level rejections and validation failures are not.
func isRetryableCode(code string) bool {
	return code == ErrCodeUpstreamLLM
}
