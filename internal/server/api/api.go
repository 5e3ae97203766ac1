// Package api implements the JSON handlers of the HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/handlift/internal/app"
	"github.com/ayusman/handlift/internal/assembly"
	"github.com/ayusman/handlift/internal/prototype"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusOf maps application errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, app.ErrPrototypeNotFound), errors.Is(err, app.ErrReconstructionNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNoStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, assembly.ErrNoPalm):
		return http.StatusUnprocessableEntity
	case errors.Is(err, assembly.ErrInvalidFrame),
		errors.Is(err, prototype.ErrNoSamples),
		errors.Is(err, prototype.ErrDegenerateSample):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
