package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func newReconstruction(id, prototypeID string) *Reconstruction {
	rec := &Reconstruction{
		ID:          id,
		PrototypeID: prototypeID,
		Seed:        1 << 63,
		Converged:   true,
		Score:       -17.5,
		Divergence:  0.02,
		Rays:        json.RawMessage(`[[0,0,1]]`),
	}
	for i := 0; i < NumJoints; i++ {
		rec.Joints = append(rec.Joints, Joint{
			Index:     i,
			X:         float64(i) * 0.01,
			Y:         -0.05,
			Z:         0.4,
			Converged: i != 7,
			Objective: -1,
		})
	}
	rec.Joints[7].Diagnostic = "optimizer stopped"
	return rec
}

func seedPrototype(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.Prototypes().Create(newPrototype(id, "hand-"+id)); err != nil {
		t.Fatalf("failed to create prototype: %v", err)
	}
}

func TestReconstructionRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	seedPrototype(t, s, "proto-1")
	repo := s.Reconstructions()

	rec := newReconstruction("rec-1", "proto-1")
	if err := repo.Create(rec); err != nil {
		t.Fatalf("failed to create reconstruction: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set after create")
	}

	got, err := repo.GetByID("rec-1")
	if err != nil {
		t.Fatalf("failed to get reconstruction: %v", err)
	}
	if got.Seed != 1<<63 {
		t.Errorf("seed = %d, want %d", got.Seed, uint64(1<<63))
	}
	if !got.Converged || got.Score != -17.5 || got.Divergence != 0.02 {
		t.Errorf("unexpected reconstruction %+v", got)
	}
	if string(got.Rays) != `[[0,0,1]]` {
		t.Errorf("rays = %s", got.Rays)
	}
	if len(got.Joints) != NumJoints {
		t.Fatalf("expected %d joints, got %d", NumJoints, len(got.Joints))
	}
	for i, j := range got.Joints {
		if j != rec.Joints[i] {
			t.Errorf("joint %d = %+v, want %+v", i, j, rec.Joints[i])
		}
	}
}

func TestReconstructionRepository_Create_Errors(t *testing.T) {
	s := newTestStore(t)
	seedPrototype(t, s, "proto-1")
	repo := s.Reconstructions()

	t.Run("wrong joint count", func(t *testing.T) {
		rec := newReconstruction("rec-1", "proto-1")
		rec.Joints = rec.Joints[:20]
		if err := repo.Create(rec); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing rays", func(t *testing.T) {
		rec := newReconstruction("rec-2", "proto-1")
		rec.Rays = nil
		if err := repo.Create(rec); !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("expected ErrEmptyPayload, got %v", err)
		}
	})

	t.Run("unknown prototype", func(t *testing.T) {
		if err := repo.Create(newReconstruction("rec-3", "missing")); err == nil {
			t.Error("expected foreign key violation")
		}
		if _, err := repo.GetByID("rec-3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("failed insert left a row behind: %v", err)
		}
	})
}

func TestReconstructionRepository_List(t *testing.T) {
	s := newTestStore(t)
	seedPrototype(t, s, "proto-1")
	seedPrototype(t, s, "proto-2")
	repo := s.Reconstructions()

	for _, rec := range []*Reconstruction{
		newReconstruction("rec-1", "proto-1"),
		newReconstruction("rec-2", "proto-1"),
		newReconstruction("rec-3", "proto-2"),
	} {
		if err := repo.Create(rec); err != nil {
			t.Fatalf("failed to create reconstruction: %v", err)
		}
	}

	all, err := repo.List("", 0)
	if err != nil {
		t.Fatalf("failed to list reconstructions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 reconstructions, got %d", len(all))
	}
	for _, rec := range all {
		if rec.Joints != nil {
			t.Errorf("List should not load joints")
		}
	}

	byProto, err := repo.List("proto-1", 0)
	if err != nil {
		t.Fatalf("failed to list reconstructions: %v", err)
	}
	if len(byProto) != 2 {
		t.Errorf("expected 2 reconstructions for proto-1, got %d", len(byProto))
	}

	limited, err := repo.List("", 1)
	if err != nil {
		t.Fatalf("failed to list reconstructions: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 reconstruction, got %d", len(limited))
	}
}

func TestReconstructionRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	seedPrototype(t, s, "proto-1")
	repo := s.Reconstructions()

	if err := repo.Create(newReconstruction("rec-1", "proto-1")); err != nil {
		t.Fatalf("failed to create reconstruction: %v", err)
	}
	if err := repo.Delete("rec-1"); err != nil {
		t.Fatalf("failed to delete reconstruction: %v", err)
	}
	if err := repo.Delete("rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var joints int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM reconstruction_joints`).Scan(&joints); err != nil {
		t.Fatalf("failed to count joints: %v", err)
	}
	if joints != 0 {
		t.Errorf("expected joints to cascade, %d left", joints)
	}
}

func TestReconstructionRepository_CascadeFromPrototype(t *testing.T) {
	s := newTestStore(t)
	seedPrototype(t, s, "proto-1")

	if err := s.Reconstructions().Create(newReconstruction("rec-1", "proto-1")); err != nil {
		t.Fatalf("failed to create reconstruction: %v", err)
	}
	if err := s.Prototypes().Delete("proto-1"); err != nil {
		t.Fatalf("failed to delete prototype: %v", err)
	}
	if _, err := s.Reconstructions().GetByID("rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected reconstruction to cascade, got %v", err)
	}
}
