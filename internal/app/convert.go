package app

import (
	"encoding/json"
	"fmt"

	"github.com/ayusman/handlift/internal/assembly"
	"github.com/ayusman/handlift/internal/prototype"
	"github.com/ayusman/handlift/internal/skeleton"
	"github.com/ayusman/handlift/internal/store"
)

// fromStorePrototype decodes a stored prototype.
func fromStorePrototype(rec *store.Prototype) (*Prototype, error) {
	hand := &prototype.Hand{}
	if err := json.Unmarshal(rec.Data, hand); err != nil {
		return nil, fmt.Errorf("decode prototype %s: %w", rec.ID, err)
	}
	return &Prototype{
		ID:        rec.ID,
		Name:      rec.Name,
		Hand:      hand,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// toStoreReconstruction converts a result into its stored form, one joint
// row per joint.
func toStoreReconstruction(res *Result) (*store.Reconstruction, error) {
	rays, err := json.Marshal(res.Rays)
	if err != nil {
		return nil, fmt.Errorf("encode rays: %w", err)
	}

	rec := &store.Reconstruction{
		ID:          res.ID,
		PrototypeID: res.PrototypeID,
		Seed:        res.Seed,
		Converged:   res.Converged,
		Score:       res.Score,
		Divergence:  res.Divergence,
		Rays:        rays,
		Joints:      make([]store.Joint, skeleton.NumJoints),
	}
	for i, p := range res.Hand.Joints {
		report := res.Joints[i]
		rec.Joints[i] = store.Joint{
			Index:      i,
			X:          p.X,
			Y:          p.Y,
			Z:          p.Z,
			Converged:  report.Converged,
			Objective:  report.Objective,
			Diagnostic: report.Diagnostic,
		}
	}
	return rec, nil
}

// fromStoreReconstruction rebuilds a result. Records listed without joints
// come back with a zero hand.
func fromStoreReconstruction(rec *store.Reconstruction) (*Result, error) {
	res := &Result{
		ID:          rec.ID,
		PrototypeID: rec.PrototypeID,
		Seed:        rec.Seed,
		CreatedAt:   rec.CreatedAt,
	}
	if err := json.Unmarshal(rec.Rays, &res.Rays); err != nil {
		return nil, fmt.Errorf("decode rays of %s: %w", rec.ID, err)
	}
	res.Converged = rec.Converged
	res.Score = rec.Score
	res.Divergence = rec.Divergence

	for _, j := range rec.Joints {
		if j.Index < 0 || j.Index >= skeleton.NumJoints {
			return nil, fmt.Errorf("reconstruction %s: joint index %d out of range", rec.ID, j.Index)
		}
		res.Hand.Joints[j.Index] = skeleton.Point3D{X: j.X, Y: j.Y, Z: j.Z}.Vec()
		res.Joints[j.Index] = assembly.JointReport{
			Converged:  j.Converged,
			Objective:  j.Objective,
			Diagnostic: j.Diagnostic,
		}
	}
	return res, nil
}
