package httpapi

import (
	"encoding/json"
	"net/http"

	"llamad/internal/manager"
	"llamad/internal/translate"
	"llamad/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes the admin-surface JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeOpenAIError writes the error shape OpenAI clients parse.
func writeOpenAIError(w http.ResponseWriter, status int, errType, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.OpenAIErrorResponse{Error: types.OpenAIError{
		Message: msg,
		Type:    errType,
		Code:    code,
	}})
}

// mapServiceError translates well-known manager and backend errors to an
// HTTP status plus OpenAI error type/code.
func mapServiceError(err error) (status int, errType, code string) {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound, "invalid_request_error", "model_not_found"
	case manager.IsModelUnavailable(err):
		return http.StatusServiceUnavailable, "server_error", "model_not_ready"
	case manager.IsOperationInProgress(err):
		return http.StatusConflict, "server_error", "operation_in_progress"
	case manager.IsAlreadyRunning(err):
		return http.StatusConflict, "invalid_request_error", "already_running"
	case manager.IsPortExhausted(err):
		return http.StatusServiceUnavailable, "server_error", "no_port_available"
	case manager.IsHealthTimeout(err), manager.IsProcessExited(err):
		return http.StatusBadGateway, "server_error", "backend_failed"
	case translate.IsUpstreamError(err):
		return http.StatusBadGateway, "server_error", "backend_error"
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode(), "server_error", ""
	}
	return http.StatusInternalServerError, "server_error", ""
}
