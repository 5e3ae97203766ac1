package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/app"
	"github.com/ayusman/handlift/internal/handtest"
	"github.com/ayusman/handlift/internal/skeleton"
)

func TestReconstructionHandler_Create(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, s)
	handler := NewReconstructionHandler(a)
	p := createPrototype(t, a)

	truth := handtest.Hand(handtest.DefaultPose())
	seed := uint64(3)
	rec := postJSON(t, handler, "/api/reconstructions", createReconstructionRequest{
		PrototypeID: p.ID,
		Rays:        raysOf(truth),
		Seed:        &seed,
		Previous:    &truth,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var response reconstructionResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Result == nil || response.ID == "" {
		t.Fatal("expected a reconstruction with an ID")
	}
	if response.Seed != 3 {
		t.Errorf("expected seed 3, got %d", response.Seed)
	}
	if response.PrototypeID != p.ID {
		t.Errorf("expected prototype ID %q, got %q", p.ID, response.PrototypeID)
	}
	if len(response.Rays) != skeleton.NumJoints {
		t.Errorf("expected %d rays, got %d", skeleton.NumJoints, len(response.Rays))
	}
	if len(response.Inconsistencies) != 0 {
		t.Errorf("expected no inconsistencies, got %v", response.Inconsistencies)
	}
	for j := range truth.Joints {
		if d := r3.Norm(r3.Sub(response.Hand.Joints[j], truth.Joints[j])); d > 1e-3 {
			t.Errorf("joint %d is %g from the truth", j, d)
		}
	}
	if len(response.Fingers) != int(skeleton.NumFingers) {
		t.Fatalf("expected %d fingers, got %d", skeleton.NumFingers, len(response.Fingers))
	}
	if tip := response.Fingers["index"][3].Vec(); tip != response.Hand.Joints[skeleton.IndexTip] {
		t.Errorf("index tip %v, want %v", tip, response.Hand.Joints[skeleton.IndexTip])
	}
	if base := response.Fingers["thumb"][0].Vec(); base != response.Hand.Joints[skeleton.ThumbCMC] {
		t.Errorf("thumb base %v, want %v", base, response.Hand.Joints[skeleton.ThumbCMC])
	}

	// Verify the reconstruction was persisted in the store
	stored, err := s.Reconstructions().GetByID(response.ID)
	if err != nil {
		t.Fatalf("failed to get stored reconstruction: %v", err)
	}
	if len(stored.Joints) != skeleton.NumJoints {
		t.Errorf("expected %d stored joints, got %d", skeleton.NumJoints, len(stored.Joints))
	}
}

func TestRespond_Inconsistencies(t *testing.T) {
	hand := handtest.Hand(handtest.DefaultPose())
	res := &app.Result{}
	res.Hand = hand

	if out := respond(res, nil); len(out.Inconsistencies) != 0 || len(out.Fingers) != int(skeleton.NumFingers) {
		t.Errorf("unexpected response without previous hand: %+v", out)
	}

	tip := skeleton.MiddleTip
	dir := r3.Unit(r3.Sub(hand.Joints[tip], hand.Joints[tip-1]))

	// Stretch the last middle finger segment.
	previous := hand
	previous.Joints[tip] = r3.Add(previous.Joints[tip], r3.Scale(3*skeleton.ConsistencyTol, dir))
	out := respond(res, &previous)
	if len(out.Inconsistencies) != 1 {
		t.Fatalf("expected one inconsistency, got %v", out.Inconsistencies)
	}

	// Below the tolerance nothing is reported.
	previous = hand
	previous.Joints[tip] = r3.Add(previous.Joints[tip], r3.Scale(skeleton.ConsistencyTol/2, dir))
	if out := respond(res, &previous); len(out.Inconsistencies) != 0 {
		t.Errorf("expected no inconsistencies, got %v", out.Inconsistencies)
	}
}

func TestReconstructionHandler_Create_Errors(t *testing.T) {
	a := newTestApp(t, newTestStore(t))
	handler := NewReconstructionHandler(a)
	p := createPrototype(t, a)

	rays := raysOf(handtest.Hand(handtest.DefaultPose()))
	zeroRay := append([]skeleton.Point3D(nil), rays...)
	zeroRay[skeleton.MiddleTip] = skeleton.Point3D{}

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"invalid json", "invalid json", http.StatusBadRequest},
		{"missing prototype id", createReconstructionRequest{Rays: rays}, http.StatusBadRequest},
		{"short rays", createReconstructionRequest{PrototypeID: p.ID, Rays: rays[:20]}, http.StatusBadRequest},
		{"zero ray", createReconstructionRequest{PrototypeID: p.ID, Rays: zeroRay}, http.StatusBadRequest},
		{"unknown prototype", createReconstructionRequest{PrototypeID: "nonexistent-id", Rays: rays}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/reconstructions", tt.body)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReconstructionHandler_GetAndList(t *testing.T) {
	a := newTestApp(t, newTestStore(t))
	handler := NewReconstructionHandler(a)
	p := createPrototype(t, a)

	truth := handtest.Hand(handtest.DefaultPose())
	rec := postJSON(t, handler, "/api/reconstructions", createReconstructionRequest{
		PrototypeID: p.ID,
		Rays:        raysOf(truth),
		Previous:    &truth,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var created reconstructionResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reconstructions/"+created.ID, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response reconstructionResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Hand != created.Hand {
			t.Errorf("stored hand differs from the created one")
		}
		if response.Score != created.Score {
			t.Errorf("expected score %g, got %g", created.Score, response.Score)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reconstructions/nonexistent-id", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reconstructions?prototype_id="+p.ID+"&limit=5", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response listReconstructionsResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Reconstructions) != 1 || response.Reconstructions[0].ID != created.ID {
			t.Errorf("expected the created reconstruction, got %+v", response.Reconstructions)
		}
	})

	t.Run("list invalid limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reconstructions?limit=many", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestReconstructionHandler_ListWithoutStore(t *testing.T) {
	handler := NewReconstructionHandler(newTestApp(t, nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reconstructions", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestReconstructionHandler_Track(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, s)
	handler := NewReconstructionHandler(a)
	p := createPrototype(t, a)

	var (
		frames [][]skeleton.Point3D
		truths []skeleton.Hand
	)
	for i := 0; i < 3; i++ {
		pose := handtest.DefaultPose()
		pose.Translation = r3.Add(pose.Translation, r3.Vec{X: 0.001 * float64(i)})
		h := handtest.Hand(pose)
		truths = append(truths, h)
		frames = append(frames, raysOf(h))
	}

	rec := postJSON(t, handler, "/api/reconstructions/track", sequenceRequest{
		PrototypeID: p.ID,
		Frames:      frames,
		Initial:     &truths[0],
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var response sequenceResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Reconstructions) != len(frames) {
		t.Fatalf("expected %d reconstructions, got %d", len(frames), len(response.Reconstructions))
	}
	for i, r := range response.Reconstructions {
		if r.Seed != 7+uint64(i) {
			t.Errorf("frame %d: expected seed %d, got %d", i, 7+i, r.Seed)
		}
		for j := range truths[i].Joints {
			if d := r3.Norm(r3.Sub(r.Hand.Joints[j], truths[i].Joints[j])); d > 1e-3 {
				t.Errorf("frame %d joint %d is %g from the truth", i, j, d)
			}
		}
	}

	stored, err := s.Reconstructions().List(p.ID, 0)
	if err != nil {
		t.Fatalf("failed to list stored reconstructions: %v", err)
	}
	if len(stored) != len(frames) {
		t.Errorf("expected %d stored reconstructions, got %d", len(frames), len(stored))
	}
}

func TestReconstructionHandler_Batch(t *testing.T) {
	a := newTestApp(t, newTestStore(t))
	handler := NewReconstructionHandler(a)
	p := createPrototype(t, a)

	frames := [][]skeleton.Point3D{
		raysOf(handtest.Hand(handtest.DefaultPose())),
		raysOf(handtest.Hand(handtest.DefaultPose())),
	}

	t.Run("solves every frame", func(t *testing.T) {
		rec := postJSON(t, handler, "/api/reconstructions/batch", sequenceRequest{PrototypeID: p.ID, Frames: frames})

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
		}

		var response sequenceResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Reconstructions) != 2 {
			t.Fatalf("expected 2 reconstructions, got %d", len(response.Reconstructions))
		}
		if response.Reconstructions[0].Seed != 7 || response.Reconstructions[1].Seed != 8 {
			t.Errorf("expected seeds 7 and 8, got %d and %d", response.Reconstructions[0].Seed, response.Reconstructions[1].Seed)
		}
	})

	t.Run("rejects bad frames", func(t *testing.T) {
		bad := [][]skeleton.Point3D{frames[0], frames[1][:3]}
		rec := postJSON(t, handler, "/api/reconstructions/batch", sequenceRequest{PrototypeID: p.ID, Frames: bad})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("requires frames", func(t *testing.T) {
		rec := postJSON(t, handler, "/api/reconstructions/batch", sequenceRequest{PrototypeID: p.ID})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}
