package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-decision error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`
}

const (
	errorTypeInvalidRequest     = "invalid_request_error"
	errorTypeNotFound           = "not_found"
	errorTypeServer             = "server_error"
	errorTypeServiceUnavailable = "service_unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}
