// Package errors defines the categorized errors surfaced by the bulk loader.
//
// Only infrastructure problems become errors: malformed caller input
// (validation), exception documents returned by the platform (protocol),
// connection failures (transport) and exhausted polling deadlines (timeout).
// Batches that end in Failed or NotProcessed are ordinary outcomes and are
// never reported through this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/bulk-loader/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed caller input, raised before any network call
	CategoryValidation ErrorCategory = "validation"
	// CategoryProtocol represents an exception document embedded in a platform response
	CategoryProtocol ErrorCategory = "protocol"
	// CategoryTransport represents a failure of the connection layer
	CategoryTransport ErrorCategory = "transport"
	// CategoryTimeout represents a polling deadline exceeded before all batches finished
	CategoryTimeout ErrorCategory = "timeout"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error

	// JobID and BatchIDs identify the remote work a timeout left outstanding
	JobID    string
	BatchIDs []string
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates a caller input error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    fmt.Sprintf("invalid %s: %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewProtocolError creates an error for an exception the platform embedded
// in an otherwise successful response
func NewProtocolError(exceptionCode, exceptionMessage string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProtocol,
		StatusCode: http.StatusBadGateway,
		Code:       exceptionCode,
		Message:    exceptionMessage,
		Details: map[string]interface{}{
			"exceptionCode":    exceptionCode,
			"exceptionMessage": exceptionMessage,
		},
	}
}

// NewMalformedResponseError creates a protocol error for a response that
// could not be decoded
func NewMalformedResponseError(what string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProtocol,
		StatusCode: http.StatusBadGateway,
		Code:       "MALFORMED_RESPONSE",
		Message:    fmt.Sprintf("malformed %s response", what),
		Cause:      cause,
	}
}

// NewTransportError wraps a connection level failure
func NewTransportError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "TRANSPORT_ERROR",
		Message:    fmt.Sprintf("transport error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewHTTPStatusError creates a transport error for a non-success HTTP status
func NewHTTPStatusError(operation string, status int, body string) *CategorizedError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: status,
		Code:       "HTTP_STATUS",
		Message:    fmt.Sprintf("%s returned status %d", operation, status),
		Details: map[string]interface{}{
			"operation": operation,
			"status":    status,
			"body":      body,
		},
	}
}

// NewTimeoutError creates a polling timeout error that remembers which
// batches were still outstanding so observation can be resumed later
func NewTimeoutError(jobID string, outstanding []string) *CategorizedError {
	ids := make([]string, len(outstanding))
	copy(ids, outstanding)
	return &CategorizedError{
		Category:   CategoryTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "JOB_TIMEOUT",
		Message: fmt.Sprintf("timeout waiting for batches [%s] of job %s",
			strings.Join(ids, ", "), jobID),
		JobID:    jobID,
		BatchIDs: ids,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// IsCategory reports whether err is a CategorizedError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return IsCategory(err, CategoryValidation) }

// IsProtocol reports whether err is a protocol error
func IsProtocol(err error) bool { return IsCategory(err, CategoryProtocol) }

// IsTransport reports whether err is a transport error
func IsTransport(err error) bool { return IsCategory(err, CategoryTransport) }

// IsTimeout reports whether err is a polling timeout
func IsTimeout(err error) bool { return IsCategory(err, CategoryTimeout) }

// OutstandingBatchIDs returns the batch ids a timeout left unfinished
func OutstandingBatchIDs(err error) []string {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) && catErr.Category == CategoryTimeout {
		return catErr.BatchIDs
	}
	return nil
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if a request that failed with err may be sent again.
// Only transport failures that look temporary qualify.
func IsRetryable(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	if catErr.Category != CategoryTransport {
		return false
	}

	switch {
	case catErr.Code == "TRANSPORT_ERROR":
		return true
	case catErr.StatusCode == http.StatusTooManyRequests:
		return true
	case catErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsRetryableUnsent is IsRetryable for requests that must not reach the
// platform twice, such as creating a job or adding a batch. It only allows
// failures where the platform cannot have acted on the request: throttling,
// an open circuit, or a connection that was never established.
func IsRetryableUnsent(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) || catErr.Category != CategoryTransport {
		return false
	}
	if catErr.StatusCode == http.StatusTooManyRequests || catErr.Code == "CIRCUIT_OPEN" {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr) && opErr.Op == "dial"
}
