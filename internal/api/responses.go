package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// APIResponse wraps every JSON response. Error is a short machine-readable
// code and is only set on failures.
type APIResponse struct {
	Code      int    `json:"code"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	respond(w, status, &APIResponse{
		Code:      status,
		Message:   "ok",
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

// writeError renders a failure; the error code is derived from the status,
// e.g. 413 -> "request_entity_too_large".
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respond(w, status, &APIResponse{
		Code:      status,
		Error:     errorCode(status),
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func respond(w http.ResponseWriter, status int, body *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
