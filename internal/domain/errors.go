package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the DomainError found anywhere in err's
// chain, or an empty string if there is none.
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeSafetyBlocked       = "SAFETY_BLOCKED"
	ErrCodeStoreCorruption     = "STORE_CORRUPTION"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyQuestion        = NewDomainError(ErrCodeValidation, "question must not be empty")
	ErrEmptyDocument        = NewDomainError(ErrCodeValidation, "document content must not be empty")
	ErrInvalidLambda        = NewDomainError(ErrCodeValidation, "lambda must be between 0 and 1")
	ErrInvalidTopK          = NewDomainError(ErrCodeValidation, "top_k must be positive")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Configuration errors are fatal for the current process. They indicate a
// mismatch between the configured pipeline and the persisted index, not a
// transient condition, so callers must not retry them.
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeConfiguration, "embedding dimension does not match index")
	ErrUnknownProvider   = NewDomainError(ErrCodeConfiguration, "unknown provider")
	ErrUnknownBackend    = NewDomainError(ErrCodeConfiguration, "unknown store backend")
	ErrUnknownClassifier = NewDomainError(ErrCodeConfiguration, "unknown safety classifier")
)

// Provider errors are transient. The pipeline retries them with backoff;
// adapters only classify, they never retry themselves.
var (
	ErrProviderUnavailable = NewDomainError(ErrCodeProviderUnavailable, "provider unavailable")
)

// Safety errors terminate a query before retrieval. They are expected
// outcomes, not faults.
var (
	ErrSafetyBlocked = NewDomainError(ErrCodeSafetyBlocked, "query blocked by safety policy")
)

// Store errors
var (
	ErrStoreCorruption = NewDomainError(ErrCodeStoreCorruption, "index storage is corrupted")
	ErrStoreClosed     = NewDomainError(ErrCodeStoreCorruption, "index storage is closed")
)
