package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marcus/sn/internal/serverdb"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownTable   = "unknown_table"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeRateLimited    = "rate_limited"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization. Conflicts also
// carry the record as the server holds it.
type ErrorResponse struct {
	Error   APIError         `json:"error"`
	Current *serverdb.Record `json:"current,omitempty"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}

// writeConflict answers a stale write with the current record.
func writeConflict(w http.ResponseWriter, message string, current *serverdb.Record) {
	writeJSON(w, http.StatusConflict, ErrorResponse{
		Error:   APIError{Code: ErrCodeConflict, Message: message},
		Current: current,
	})
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}
