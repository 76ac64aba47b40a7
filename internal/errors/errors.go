// Package errors defines the categorized error taxonomy of a metrics run.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pool-metrics/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUpstream represents failed HTTP/RPC collaborator calls
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryPrice represents a missing or zero sampled price
	CategoryPrice ErrorCategory = "price"
	// CategoryEvent represents a trade event that cannot be used
	CategoryEvent ErrorCategory = "event"
	// CategoryConfig represents invalid configuration
	CategoryConfig ErrorCategory = "config"
	// CategoryStorage represents output sink errors
	CategoryStorage ErrorCategory = "storage"
	// CategoryNotFound represents lookups of unknown resources
	CategoryNotFound ErrorCategory = "not_found"
)

// Error codes
const (
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodePriceUnavailable    = "PRICE_UNAVAILABLE"
	CodeUnresolvedEvent     = "UNRESOLVED_EVENT"
	CodeDecodeError         = "DECODE_ERROR"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeStorageError        = "STORAGE_ERROR"
	CodeNotFound            = "NOT_FOUND"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
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

// NewUpstreamUnavailableError creates an error for a non-success collaborator response
func NewUpstreamUnavailableError(upstream string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamUnavailable,
		Message:    fmt.Sprintf("upstream unavailable: %s", upstream),
		Cause:      cause,
		Details: map[string]interface{}{
			"upstream": upstream,
		},
	}
}

// NewPriceUnavailableError creates an error for an asset whose price could not be sampled
func NewPriceUnavailableError(asset string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPrice,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodePriceUnavailable,
		Message:    fmt.Sprintf("price unavailable for %s", asset),
		Cause:      cause,
		Details: map[string]interface{}{
			"asset": asset,
		},
	}
}

// NewUnresolvedEventError creates an error for an event that maps to no configured pool
func NewUnresolvedEventError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEvent,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeUnresolvedEvent,
		Message:    fmt.Sprintf("event does not resolve to a pool: %s", reason),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewDecodeError creates an error for a malformed event field
func NewDecodeError(field string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEvent,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeDecodeError,
		Message:    fmt.Sprintf("cannot decode field %s", field),
		Cause:      cause,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewInvalidConfigError creates a configuration error
func NewInvalidConfigError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfig,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInvalidConfig,
		Message:    fmt.Sprintf("invalid configuration '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewStorageError creates an output sink error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeStorageError,
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// HasCode reports whether any CategorizedError in the chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		var catErr *CategorizedError
		if !stderrors.As(err, &catErr) {
			return false
		}
		if catErr.Code == code {
			return true
		}
		err = catErr.Cause
	}
	return false
}

// IsFatal reports whether an error must abort the whole run. Only
// CategoryEvent errors are recoverable, and the ingestor, which is the one
// place that drops records, tells those apart with HasCode. IsFatal is the
// classification tests hold every error path to.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		// Uncategorized errors come from unexpected paths; treat them as fatal.
		return true
	}
	switch catErr.Category {
	case CategoryEvent:
		return false
	default:
		return true
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
