package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayusman/handlift/internal/app"
	"github.com/ayusman/handlift/internal/prototype"
)

// PrototypeHandler handles HTTP requests for prototype resources.
type PrototypeHandler struct {
	app *app.App
}

// NewPrototypeHandler creates a new PrototypeHandler backed by a.
func NewPrototypeHandler(a *app.App) *PrototypeHandler {
	return &PrototypeHandler{app: a}
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/prototypes or /api/prototypes/{id}
func (h *PrototypeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/prototypes")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request types

type createPrototypeRequest struct {
	Name    string            `json:"name"`
	Samples []json.RawMessage `json:"samples"`
}

// Response types

type prototypeResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Samples   int             `json:"samples"`
	Prototype *prototype.Hand `json:"prototype"`
	CreatedAt string          `json:"created_at"`
}

type listPrototypesResponse struct {
	Prototypes []prototypeResponse `json:"prototypes"`
}

func toPrototypeResponse(p *app.Prototype) prototypeResponse {
	return prototypeResponse{
		ID:        p.ID,
		Name:      p.Name,
		Samples:   p.Hand.Samples,
		Prototype: p.Hand,
		CreatedAt: p.CreatedAt.Format(timeFormat),
	}
}

// list handles GET /api/prototypes
func (h *PrototypeHandler) list(w http.ResponseWriter, r *http.Request) {
	prototypes, err := h.app.Prototypes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list prototypes")
		return
	}

	response := listPrototypesResponse{
		Prototypes: make([]prototypeResponse, 0, len(prototypes)),
	}
	for _, p := range prototypes {
		response.Prototypes = append(response.Prototypes, toPrototypeResponse(p))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/prototypes/{id}
func (h *PrototypeHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.app.Prototype(id)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusNotFound {
			writeError(w, status, "Prototype not found")
			return
		}
		writeError(w, status, "Failed to get prototype")
		return
	}

	writeJSON(w, http.StatusOK, toPrototypeResponse(p))
}

// create handles POST /api/prototypes. The samples are calibration hands,
// each a {"joints": [...]} object or a bare array of 21 points.
func (h *PrototypeHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createPrototypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "At least one sample is required")
		return
	}
	for i, raw := range req.Samples {
		if _, err := prototype.ParseSample(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid sample %d: %v", i, err))
			return
		}
	}

	p, err := h.app.CreatePrototype(req.Name, req.Samples)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusBadRequest {
			writeError(w, status, err.Error())
			return
		}
		writeError(w, status, "Failed to create prototype")
		return
	}

	writeJSON(w, http.StatusCreated, toPrototypeResponse(p))
}

// delete handles DELETE /api/prototypes/{id}
func (h *PrototypeHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.app.DeletePrototype(id); err != nil {
		status := statusOf(err)
		if status == http.StatusNotFound {
			writeError(w, status, "Prototype not found")
			return
		}
		writeError(w, status, "Failed to delete prototype")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
