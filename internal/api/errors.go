package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/ipx800-bridge/internal/bridge"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// FailedChannels lists the outputs that could not be set.
	FailedChannels []string `json:"failed_channels,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeMethodNotAllow  = "method_not_allowed"
	ErrCodeActuationFailed = "actuation_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps an error from the bridge or registry to a response.
//
// Actuation failures are reported as 502 with the failed channels, since the
// request was valid but the controller did not carry it out.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch bridge.ErrorCode(err) {
	case bridge.CodeNotFound:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case bridge.CodeConflict:
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case bridge.CodeInvalidRequest:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case bridge.CodeActuationFailed:
		writeJSON(w, http.StatusBadGateway, Error{
			Status:         http.StatusBadGateway,
			Code:           ErrCodeActuationFailed,
			Message:        err.Error(),
			FailedChannels: ipx800.FailedChannels(err),
		})
	default:
		writeInternalError(w, "internal error")
	}
}
