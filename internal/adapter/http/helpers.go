// Package http exposes the REST and SSE transport for the orchestration
// core.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/Concord/internal/domain"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain sentinel errors to HTTP status codes and
// attaches the wire reason code where one exists.
func writeDomainError(w http.ResponseWriter, err error) {
	var status int
	var reason string

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
		reason = "capacity_exceeded"
	case errors.Is(err, domain.ErrAgentUnavailable):
		status = http.StatusServiceUnavailable
		reason = "agent_unavailable"
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: reason})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %s", domain.ErrValidation, err)
	}
	return nil
}
