package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
)

// mapServiceError maps categorized errors to an HTTP status, code and message.
// Internal details are not exposed.
func mapServiceError(err error) (int, string, string) {
	catErr := apperrors.Categorize(err)

	switch catErr.Category {
	case apperrors.CategoryValidation:
		if catErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, ErrCodeNotFound, catErr.Message
		}
		return http.StatusBadRequest, ErrCodeInvalidInput, catErr.Message
	case apperrors.CategoryProtocol:
		// The platform rejected the request; its exception code is the useful part
		return http.StatusBadGateway, catErr.Code, catErr.Message
	case apperrors.CategoryTransport, apperrors.CategoryTimeout:
		return http.StatusBadGateway, ErrCodeUpstream, catErr.Message
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status, code, message := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	respondError(w, status, code, message, nil)
}
