package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeUnavailable   = "service_unavailable"
	ErrCodeDeviceTimeout = "device_timeout"
	ErrCodeDeviceError   = "device_error"
	ErrCodeTooLarge      = "request_too_large"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeDeviceError maps session and bridge errors onto HTTP statuses.
//
//	not connected / not ready   → 503
//	timeout                     → 504
//	device rejected the request → 502
//	invalid position or action  → 400
func writeDeviceError(w http.ResponseWriter, err error) {
	var statusErr *siegenia.StatusError
	var authErr *siegenia.AuthError

	switch {
	case errors.Is(err, window.ErrUnsupportedPosition), errors.Is(err, window.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, siegenia.ErrNotConnected), errors.Is(err, window.ErrNotReady), errors.Is(err, window.ErrNoState),
		errors.Is(err, siegenia.ErrConnectionClosed), errors.Is(err, siegenia.ErrClientClosed):
		writeUnavailable(w, err.Error())
	case errors.Is(err, siegenia.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceTimeout, err.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, "device session not authenticated: "+authErr.Status)
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, "device returned "+statusErr.Status)
	default:
		writeInternalError(w, err.Error())
	}
}
