package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"cardops/internal/adapters/csvfile"
	"cardops/internal/config"
	"cardops/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a service error to a status code. Store and internal
// faults are logged; caller mistakes are not.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *core.PersistenceError
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, csvfile.ErrMissingColumn):
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
	case errors.As(err, &pe):
		config.LogError(requestLog(r, h.log), "web", r.URL.Path, pe.Op, err)
		writeError(w, r, err.Error(), "UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		config.LogError(requestLog(r, h.log), "web", r.URL.Path, nil, err)
		writeError(w, r, err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
