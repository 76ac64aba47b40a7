package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.GetGlobalLogger().WithError(err).Warn("failed to encode response")
		}
	}
}

// respondServiceError maps a categorized error onto its HTTP status.
// Only not-found errors expose their message; everything else is reported
// as unavailable so upstream details do not leak.
func respondServiceError(w http.ResponseWriter, err error) {
	var catErr *apperrors.CategorizedError
	if !stderrors.As(err, &catErr) {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}

	if catErr.Code == apperrors.CodeNotFound {
		se := catErr.ToServiceError()
		respondError(w, http.StatusNotFound, ErrCodeNotFound, se.Message, se.Details)
		return
	}
	respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Snapshots are not available", nil)
}
