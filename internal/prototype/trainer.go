// Package prototype builds the reference hand the solvers fit to: canonical
// joint directions and bone lengths averaged over calibration samples.
package prototype

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/geom"
	"github.com/ayusman/handlift/internal/skeleton"
	"github.com/ayusman/handlift/internal/triangle"
)

var (
	// ErrNoSamples is returned when training gets no samples.
	ErrNoSamples = errors.New("no samples provided")
	// ErrDegenerateSample is returned for a sample whose palm does not span a
	// plane.
	ErrDegenerateSample = errors.New("degenerate palm")
)

// Hand is a trained prototype. Reference is expressed in the palm frame:
// wrist at the origin, x towards the index MCP, z along the palm normal.
type Hand struct {
	Reference skeleton.Hand              `json:"reference"`
	Lengths   [skeleton.NumJoints]float64 `json:"lengths"`
	Samples   int                        `json:"samples"`
}

// Palm returns the reference palm triangle (wrist, index MCP, pinky MCP).
func (h *Hand) Palm() [3]r3.Vec {
	return [3]r3.Vec{
		h.Reference.Joints[skeleton.Wrist],
		h.Reference.Joints[skeleton.IndexMCP],
		h.Reference.Joints[skeleton.PinkyMCP],
	}
}

// PalmDistances returns the target distances of the palm triangle.
func (h *Hand) PalmDistances() triangle.Distances {
	return triangle.DistancesBetween(h.Palm())
}

// Direction returns the unit direction of the bone ending at joint j, in the
// palm frame.
func (h *Hand) Direction(j int) (r3.Vec, error) {
	p := skeleton.Parent(j)
	if p < 0 {
		return r3.Vec{}, fmt.Errorf("joint %d has no parent", j)
	}
	return geom.Normalize(r3.Sub(h.Reference.Joints[j], h.Reference.Joints[p]))
}

// Trainer turns calibration samples into a prototype.
type Trainer struct{}

// NewTrainer creates a new Trainer instance.
func NewTrainer() *Trainer {
	return &Trainer{}
}

// Train averages the samples in the palm frame. Bone lengths are averaged
// separately so that they do not shrink when the samples disagree on pose.
func (t *Trainer) Train(samples []skeleton.Hand) (*Hand, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	out := &Hand{Samples: len(samples)}
	n := float64(len(samples))

	for i, s := range samples {
		frame, err := PalmFrame(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		wrist := s.Joints[skeleton.Wrist]
		lengths := s.Lengths()
		for j := range s.Joints {
			local := frame.MulVec(r3.Sub(s.Joints[j], wrist))
			out.Reference.Joints[j] = r3.Add(out.Reference.Joints[j], r3.Scale(1/n, local))
			out.Lengths[j] += lengths[j] / n
		}
	}

	return out, nil
}

// TrainRaw parses JSON samples and trains on them. Each sample is either a
// hand object {"joints": [...]} or a bare array of 21 {x, y, z} points.
func (t *Trainer) TrainRaw(samples []json.RawMessage) (*Hand, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	hands := make([]skeleton.Hand, 0, len(samples))
	for i, raw := range samples {
		h, err := ParseSample(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sample %d: %w", i, err)
		}
		hands = append(hands, h)
	}
	return t.Train(hands)
}

// ParseSample decodes one calibration sample.
func ParseSample(raw json.RawMessage) (skeleton.Hand, error) {
	var points []skeleton.Point3D
	if err := json.Unmarshal(raw, &points); err == nil {
		vs := make([]r3.Vec, len(points))
		for i, p := range points {
			vs[i] = p.Vec()
		}
		return skeleton.FromPoints(vs)
	}

	var h skeleton.Hand
	if err := json.Unmarshal(raw, &h); err != nil {
		return skeleton.Hand{}, err
	}
	return h, nil
}

// PalmFrame returns the rotation taking world directions into the palm frame
// of h: rows x towards the index MCP, y in the palm plane, z along the palm
// normal.
func PalmFrame(h skeleton.Hand) (*r3.Mat, error) {
	return FrameOf(h.Joints[skeleton.Wrist], h.Joints[skeleton.IndexMCP], h.Joints[skeleton.PinkyMCP])
}

// FrameOf is PalmFrame for a bare palm triangle.
func FrameOf(wrist, index, pinky r3.Vec) (*r3.Mat, error) {
	x, err := geom.Normalize(r3.Sub(index, wrist))
	if err != nil {
		return nil, ErrDegenerateSample
	}
	z, err := geom.Normalize(geom.Cross(x, r3.Sub(pinky, wrist)))
	if err != nil {
		return nil, ErrDegenerateSample
	}
	return geom.Rows(x, geom.Cross(z, x), z), nil
}
