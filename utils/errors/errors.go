package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a custom error type for API responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

// Error returns the error message
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	ErrInvalidInput = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrNotFound     = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrInternal     = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrConflict     = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)

	// Import pipeline errors
	ErrArchiveUnreadable = NewAPIError("FILE_ERROR", "Could not open KMZ archive", http.StatusBadRequest, "archive_unreadable")
	ErrNoKMLInArchive    = NewAPIError("FILE_ERROR", "KMZ archive contains no KML document", http.StatusBadRequest, "no_kml_in_archive")
	ErrStaleImport       = NewAPIError("NOT_FOUND", "Staged import expired or missing, please re-upload the file", http.StatusNotFound, "stale_import")
)

// NewParseError wraps the first XML parser message from a failed document parse.
func NewParseError(detail string) *APIError {
	return NewAPIError("PARSE_ERROR", "Invalid KML document", http.StatusBadRequest, detail)
}

// NewValidationError reports a rejected store mutation (empty name, unknown category, ...).
func NewValidationError(message string) *APIError {
	return NewAPIError("VALIDATION_ERROR", message, http.StatusBadRequest)
}

// Geocoding error codes. These travel inside batch statistics as well as
// API responses, so the codes match the per-POI failure reasons.
const (
	GeocodeNoAPIKey = "no_api_key"
	GeocodeFailed   = "geocoding_failed"
	GeocodeNetwork  = "network_error"
)

// NewGeocodingError builds a GEOCODING_ERROR with one of the Geocode* codes as detail.
func NewGeocodingError(code, message string) *APIError {
	return NewAPIError("GEOCODING_ERROR", message, http.StatusBadGateway, code)
}

func Wrap(err error, code, message string, status int) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}
