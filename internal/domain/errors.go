package domain

import "fmt"

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

// Common domain error codes
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeEmbeddingRejected    = "EMBEDDING_REJECTED"
	ErrCodeEmbeddingUnavailable = "EMBEDDING_UNAVAILABLE"
	ErrCodeIndexUnavailable     = "INDEX_UNAVAILABLE"
	ErrCodeGenerationFailed     = "GENERATION_FAILED"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidChunkConfig  = NewDomainError(ErrCodeInvalidInput, "overlap must be smaller than chunk size and chunk size must be positive")
	ErrEmptyQuery          = NewDomainError(ErrCodeInvalidInput, "query must not be empty")
	ErrEmptyDocument       = NewDomainError(ErrCodeInvalidInput, "document text must not be empty")
	ErrModelMismatch       = NewDomainError(ErrCodeInvalidInput, "embedding model or dimension does not match the index")
	ErrInvalidSessionScope = NewDomainError(ErrCodeInvalidInput, "invalid session scope")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrSessionNotFound  = NewDomainError(ErrCodeNotFound, "chat session not found")
)

// Provider and backend errors
var (
	ErrEmbeddingRejected    = NewDomainError(ErrCodeEmbeddingRejected, "embedding provider rejected the request")
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeEmbeddingUnavailable, "embedding provider unavailable")
	ErrIndexUnavailable     = NewDomainError(ErrCodeIndexUnavailable, "vector index unavailable")
	ErrGenerationFailed     = NewDomainError(ErrCodeGenerationFailed, "language model call failed")
)

// Session lifecycle errors
var (
	ErrSessionExpired = NewDomainError(ErrCodeSessionExpired, "chat session is no longer accepting turns")
)

// Retryable reports whether the error represents a transient failure the
// caller may retry.
func Retryable(err error) bool {
	domainErr, ok := err.(*DomainError)
	if !ok {
		return false
	}
	switch domainErr.Code {
	case ErrCodeEmbeddingUnavailable, ErrCodeIndexUnavailable, ErrCodeGenerationFailed:
		return true
	}
	return false
}
