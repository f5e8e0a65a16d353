package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/bms/pkg/billing"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps a billing error to its HTTP status and error code.
// Unrecognised errors are internal.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, billing.ErrEligibility):
		return http.StatusForbidden, "not_eligible"
	case errors.Is(err, billing.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, billing.ErrImmutableField):
		return http.StatusConflict, "immutable_field"
	case errors.Is(err, billing.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, billing.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteServiceError writes err with the status StatusFor assigns it.
// Internal errors are reported without their message.
func WriteServiceError(w http.ResponseWriter, err error) int {
	status, code := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}

	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	var ferr *billing.ImmutableFieldError
	if errors.As(err, &ferr) {
		resp.Field = ferr.Field
	}

	_ = WriteJSON(w, status, resp)
	return status
}
