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
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeFetch         = "FETCH_ERROR"
	ErrCodeEmbedding     = "EMBEDDING_ERROR"
	ErrCodeNotBuilt      = "NOT_BUILT"
	ErrCodeUnavailable   = "RETRIEVAL_UNAVAILABLE"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrMissingTicker      = NewDomainError(ErrCodeValidation, "ticker is required")
	ErrInvalidSectionKind = NewDomainError(ErrCodeValidation, "invalid filing section")
	ErrEmptyQuestion      = NewDomainError(ErrCodeValidation, "question text is required")
)

// Not found errors: no public filing exists for the requested company or
// section. Never retried; surfaced to the caller as a "no data" condition.
var (
	ErrTickerNotFound = NewDomainError(ErrCodeNotFound, "ticker not found in SEC registry")
	ErrFilingNotFound = NewDomainError(ErrCodeNotFound, "no 10-K filing found for company")
)

// Transient upstream failures. Retried with bounded backoff at the point
// of call; exhausted retries propagate upward wrapped in these.
var (
	ErrFetchFailed     = NewDomainError(ErrCodeFetch, "failed to fetch filing content")
	ErrSectionEmpty    = NewDomainError(ErrCodeFetch, "filing contains no extractable text for section")
	ErrEmbeddingFailed = NewDomainError(ErrCodeEmbedding, "embedding service request failed")
)

// Index lifecycle errors
var (
	// ErrIndexNotBuilt is internal to the index manager; seeing it escape
	// the manager indicates a logic error.
	ErrIndexNotBuilt = NewDomainError(ErrCodeNotBuilt, "no index built for document key")

	// ErrRetrievalUnavailable is returned when a build fails and no prior
	// index exists to fall back to.
	ErrRetrievalUnavailable = NewDomainError(ErrCodeUnavailable, "filing data unavailable: index build failed with no cached index")

	ErrDimensionMismatch = NewDomainError(ErrCodeValidation, "query vector dimensionality does not match index")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)
