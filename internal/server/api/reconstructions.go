package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/handlift/internal/app"
	"github.com/ayusman/handlift/internal/skeleton"
)

// ReconstructionHandler handles HTTP requests for reconstruction resources.
type ReconstructionHandler struct {
	app *app.App
}

// NewReconstructionHandler creates a new ReconstructionHandler backed by a.
func NewReconstructionHandler(a *app.App) *ReconstructionHandler {
	return &ReconstructionHandler{app: a}
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/reconstructions, /api/reconstructions/{id},
// /api/reconstructions/batch and /api/reconstructions/track
func (h *ReconstructionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reconstructions")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case r.Method == http.MethodPost && path == "batch":
		h.sequence(w, r, false)
	case r.Method == http.MethodPost && path == "track":
		h.sequence(w, r, true)
	case r.Method == http.MethodGet:
		h.get(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request types

type createReconstructionRequest struct {
	PrototypeID string             `json:"prototype_id"`
	Rays        []skeleton.Point3D `json:"rays"`
	Seed        *uint64            `json:"seed"`
	Previous    *skeleton.Hand     `json:"previous"`
}

type sequenceRequest struct {
	PrototypeID string               `json:"prototype_id"`
	Frames      [][]skeleton.Point3D `json:"frames"`
	// Initial seeds tracking; ignored by batch requests.
	Initial *skeleton.Hand `json:"initial"`
}

// Response types

type reconstructionResponse struct {
	*app.Result
	// Fingers lists each finger chain from base to tip, keyed by name.
	Fingers         map[string][4]skeleton.Point3D `json:"fingers"`
	Inconsistencies []string                       `json:"inconsistencies,omitempty"`
}

type listReconstructionsResponse struct {
	Reconstructions []*app.Result `json:"reconstructions"`
}

type sequenceResponse struct {
	Reconstructions []reconstructionResponse `json:"reconstructions"`
}

// toRays checks that exactly one ray per joint was given.
func toRays(points []skeleton.Point3D) (app.Rays, error) {
	var rays app.Rays
	if len(points) != skeleton.NumJoints {
		return rays, fmt.Errorf("got %d rays, expected %d", len(points), skeleton.NumJoints)
	}
	for i, p := range points {
		rays[i] = p.Vec()
	}
	return rays, nil
}

// respond attaches the per-finger view of the hand and the finger segments
// whose lengths changed since the previous frame, when there is one.
func respond(res *app.Result, previous *skeleton.Hand) reconstructionResponse {
	out := reconstructionResponse{
		Result:  res,
		Fingers: make(map[string][4]skeleton.Point3D, skeleton.NumFingers),
	}
	for f := skeleton.Thumb; f < skeleton.NumFingers; f++ {
		var chain [4]skeleton.Point3D
		for i, p := range res.Hand.Finger(f) {
			chain[i] = skeleton.PointOf(p)
		}
		out.Fingers[f.String()] = chain
	}
	if previous == nil {
		return out
	}
	for _, inc := range skeleton.Inconsistencies(res.Hand, *previous, skeleton.ConsistencyTol) {
		out.Inconsistencies = append(out.Inconsistencies, inc.String())
	}
	return out
}

// list handles GET /api/reconstructions?prototype_id=...&limit=...
func (h *ReconstructionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	results, err := h.app.Reconstructions(r.URL.Query().Get("prototype_id"), limit)
	if err != nil {
		writeError(w, statusOf(err), "Failed to list reconstructions")
		return
	}

	writeJSON(w, http.StatusOK, listReconstructionsResponse{Reconstructions: results})
}

// get handles GET /api/reconstructions/{id}
func (h *ReconstructionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.app.Reconstruction(id)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusNotFound {
			writeError(w, status, "Reconstruction not found")
			return
		}
		writeError(w, status, "Failed to get reconstruction")
		return
	}

	writeJSON(w, http.StatusOK, respond(res, nil))
}

// create handles POST /api/reconstructions
func (h *ReconstructionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createReconstructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.PrototypeID == "" {
		writeError(w, http.StatusBadRequest, "prototype_id is required")
		return
	}
	rays, err := toRays(req.Rays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.Reconstruct(r.Context(), app.Request{
		PrototypeID: req.PrototypeID,
		Rays:        rays,
		Seed:        req.Seed,
		Previous:    req.Previous,
	})
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, respond(res, req.Previous))
}

// sequence handles POST /api/reconstructions/batch and
// POST /api/reconstructions/track.
func (h *ReconstructionHandler) sequence(w http.ResponseWriter, r *http.Request, track bool) {
	var req sequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.PrototypeID == "" {
		writeError(w, http.StatusBadRequest, "prototype_id is required")
		return
	}
	if len(req.Frames) == 0 {
		writeError(w, http.StatusBadRequest, "At least one frame is required")
		return
	}
	frames := make([]app.Rays, len(req.Frames))
	for i, points := range req.Frames {
		rays, err := toRays(points)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("frame %d: %v", i, err))
			return
		}
		frames[i] = rays
	}

	var (
		results []*app.Result
		err     error
	)
	if track {
		results, err = h.app.Track(r.Context(), req.PrototypeID, req.Initial, frames)
	} else {
		results, err = h.app.ReconstructBatch(r.Context(), req.PrototypeID, frames)
	}
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	response := sequenceResponse{
		Reconstructions: make([]reconstructionResponse, 0, len(results)),
	}
	var previous *skeleton.Hand
	if track {
		previous = req.Initial
	}
	for _, res := range results {
		response.Reconstructions = append(response.Reconstructions, respond(res, previous))
		if track {
			previous = &res.Hand
		}
	}
	writeJSON(w, http.StatusCreated, response)
}
