// Package assembly lifts a full 21-joint hand from per-joint viewing rays and
// a trained prototype. The palm triangle is solved first; every other joint
// is then placed on the sphere of its bone length around its parent.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/cone"
	"github.com/ayusman/handlift/internal/geom"
	"github.com/ayusman/handlift/internal/prototype"
	"github.com/ayusman/handlift/internal/skeleton"
	"github.com/ayusman/handlift/internal/triangle"
)

var (
	// ErrInvalidFrame is returned for frames with zero-length rays or without
	// a prototype.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrNoPalm is returned when no palm candidate spans a plane.
	ErrNoPalm = errors.New("no usable palm candidate")
)

// palmBases are the finger bases placed around the wrist by the cone solver.
// The index and pinky bases come from the palm triangle.
var palmBases = []int{skeleton.ThumbCMC, skeleton.MiddleMCP, skeleton.RingMCP}

// Limits bound the motion of a finger joint relative to its parent bone.
type Limits struct {
	// MaxFlex is the largest bend away from the parent bone, in radians.
	MaxFlex float64 `json:"max_flex"`
	// MaxAbduction is the largest angle out of the flexion plane, in radians.
	MaxAbduction float64 `json:"max_abduction"`
}

// Config holds the anatomical limits used by the assembler.
type Config struct {
	// PalmSlack is the angle the remaining palm bases may deviate from the
	// prototype, in radians.
	PalmSlack float64
	Finger    Limits
	Thumb     Limits
	// ScoreTol is the score difference under which two palm candidates are
	// ranked by their distance to the previous frame.
	ScoreTol float64
}

// DefaultConfig returns the default anatomical limits.
func DefaultConfig() Config {
	return Config{
		PalmSlack: 0.35,
		Finger:    Limits{MaxFlex: 1.75, MaxAbduction: 0.35},
		Thumb:     Limits{MaxFlex: 1.2, MaxAbduction: 0.8},
		ScoreTol:  1e-9,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PalmSlack <= 0 {
		c.PalmSlack = d.PalmSlack
	}
	if c.Finger.MaxFlex <= 0 {
		c.Finger.MaxFlex = d.Finger.MaxFlex
	}
	if c.Finger.MaxAbduction <= 0 {
		c.Finger.MaxAbduction = d.Finger.MaxAbduction
	}
	if c.Thumb.MaxFlex <= 0 {
		c.Thumb.MaxFlex = d.Thumb.MaxFlex
	}
	if c.Thumb.MaxAbduction <= 0 {
		c.Thumb.MaxAbduction = d.Thumb.MaxAbduction
	}
	if c.ScoreTol <= 0 {
		c.ScoreTol = d.ScoreTol
	}
	return c
}

// Frame is one observation: a viewing ray per joint and, when tracking, the
// hand reconstructed from the previous frame.
type Frame struct {
	Rays     [skeleton.NumJoints]r3.Vec
	Previous *skeleton.Hand
}

// JointReport describes how one joint was placed.
type JointReport struct {
	Converged bool `json:"converged"`
	// Objective is the negative cosine between the joint and its ray.
	Objective  float64 `json:"objective"`
	Diagnostic string  `json:"diagnostic,omitempty"`
}

// Reconstruction is the assembled hand with per-joint diagnostics.
type Reconstruction struct {
	Hand      skeleton.Hand                   `json:"hand"`
	Joints    [skeleton.NumJoints]JointReport `json:"joints"`
	Converged bool                            `json:"converged"`
	// Score is the sum of the joint objectives; -18 is a perfect fit.
	Score float64 `json:"score"`
	// Candidate is the index of the chosen palm among Candidates.
	Candidate  int `json:"candidate"`
	Candidates int `json:"candidates"`
	// Divergence is the distance between the two palm solutions of the pair.
	Divergence float64         `json:"divergence"`
	Palm       triangle.Result `json:"-"`
}

// Assembler reconstructs hands.
type Assembler struct {
	triangle *triangle.Solver
	cone     *cone.Solver
	config   Config
}

// New creates an Assembler. Zero fields of config take default values.
func New(config Config, tri *triangle.Solver, cn *cone.Solver) *Assembler {
	return &Assembler{triangle: tri, cone: cn, config: config.withDefaults()}
}

// Config returns the effective configuration.
func (a *Assembler) Config() Config {
	return a.config
}

// Assemble reconstructs the hand seen in frame. Palm candidates come from the
// triangle pair solver and, when a previous hand is given, from refining its
// palm depths. Each candidate is completed joint by joint and the one with
// the lowest score is returned.
func (a *Assembler) Assemble(ctx context.Context, rng *rand.Rand, frame Frame, proto *prototype.Hand) (Reconstruction, error) {
	if proto == nil {
		return Reconstruction{}, fmt.Errorf("%w: no prototype", ErrInvalidFrame)
	}
	var rays [skeleton.NumJoints]r3.Vec
	for j, ray := range frame.Rays {
		u, err := geom.Normalize(ray)
		if err != nil {
			return Reconstruction{}, fmt.Errorf("%w: ray %d: %v", ErrInvalidFrame, j, err)
		}
		rays[j] = u
	}

	protoFrame, err := prototype.PalmFrame(proto.Reference)
	if err != nil {
		return Reconstruction{}, fmt.Errorf("prototype: %w", err)
	}

	candidates, divergence, err := a.palmCandidates(ctx, rng, rays, frame.Previous, proto)
	if err != nil {
		return Reconstruction{}, err
	}

	var (
		best  Reconstruction
		found bool
	)
	for i, palm := range candidates {
		rec, ok, err := a.complete(ctx, rays, frame.Previous, proto, protoFrame, palm)
		if err != nil {
			return Reconstruction{}, err
		}
		if !ok {
			continue
		}
		rec.Candidate = i
		if !found || a.better(rec, best, frame.Previous) {
			best, found = rec, true
		}
	}
	if !found {
		return Reconstruction{}, ErrNoPalm
	}

	best.Candidates = len(candidates)
	best.Divergence = divergence
	return best, nil
}

// palmCandidates returns the distinct palm solutions, those in front of the
// camera first.
func (a *Assembler) palmCandidates(ctx context.Context, rng *rand.Rand, rays [skeleton.NumJoints]r3.Vec, previous *skeleton.Hand, proto *prototype.Hand) ([]triangle.Result, float64, error) {
	palmRays := [3]r3.Vec{rays[skeleton.Wrist], rays[skeleton.IndexMCP], rays[skeleton.PinkyMCP]}
	d := proto.PalmDistances()

	var out []triangle.Result
	add := func(r triangle.Result) {
		for _, c := range out {
			if triangle.Separation(c, r) < a.triangle.Config().SeparationTol {
				return
			}
		}
		out = append(out, r)
	}

	if previous != nil {
		guess := [3]float64{
			r3.Dot(previous.Joints[skeleton.Wrist], palmRays[0]),
			r3.Dot(previous.Joints[skeleton.IndexMCP], palmRays[1]),
			r3.Dot(previous.Joints[skeleton.PinkyMCP], palmRays[2]),
		}
		refined, err := a.triangle.Refine(ctx, palmRays, d, guess)
		if err != nil {
			return nil, 0, err
		}
		if refined.Converged {
			add(refined)
		}
	}

	pair, err := a.triangle.SolvePair(ctx, rng, palmRays, d)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range pair.Results() {
		add(r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return inFront(out[i]) && !inFront(out[j])
	})
	return out, pair.Divergence(), nil
}

// complete places every joint for one palm candidate. It reports false when
// the palm does not span a plane.
func (a *Assembler) complete(ctx context.Context, rays [skeleton.NumJoints]r3.Vec, previous *skeleton.Hand, proto *prototype.Hand, protoFrame *r3.Mat, palm triangle.Result) (Reconstruction, bool, error) {
	wrist, index, pinky := palm.Points[0], palm.Points[1], palm.Points[2]
	solvedFrame, err := prototype.FrameOf(wrist, index, pinky)
	if err != nil {
		return Reconstruction{}, false, nil
	}
	rot, err := palmRotation(protoFrame, solvedFrame)
	if err != nil {
		return Reconstruction{}, false, nil
	}
	normal := solvedFrame.VecRow(2)
	flexion := r3.Scale(-1, normal)

	rec := Reconstruction{Palm: palm, Converged: palm.Converged}
	rec.Hand.Joints[skeleton.Wrist] = wrist
	rec.Hand.Joints[skeleton.IndexMCP] = index
	rec.Hand.Joints[skeleton.PinkyMCP] = pinky
	for _, j := range []int{skeleton.Wrist, skeleton.IndexMCP, skeleton.PinkyMCP} {
		rec.Joints[j] = JointReport{
			Converged:  palm.Converged,
			Objective:  -cosine(rec.Hand.Joints[j], rays[j]),
			Diagnostic: palm.Diagnostic,
		}
	}

	place := func(j int, prob cone.Problem) error {
		res, err := a.cone.Solve(ctx, prob)
		if err != nil {
			return fmt.Errorf("joint %d: %w", j, err)
		}
		rec.Hand.Joints[j] = res.Point
		rec.Joints[j] = JointReport{Converged: res.Converged, Objective: res.Objective, Diagnostic: res.Diagnostic}
		rec.Score += res.Objective
		rec.Converged = rec.Converged && res.Converged
		return nil
	}

	ref := proto.Reference.Joints
	for _, j := range palmBases {
		dir, err := proto.Direction(j)
		if err != nil {
			return Reconstruction{}, false, fmt.Errorf("prototype joint %d: %w", j, err)
		}
		predicted := r3.Add(wrist, rot.MulVec(r3.Sub(ref[j], ref[skeleton.Wrist])))
		err = place(j, cone.Problem{
			Center:      wrist,
			Normal:      rot.MulVec(dir),
			Tangent:     flexion,
			Radius:      proto.Lengths[j],
			NormCos:     math.Cos(a.config.PalmSlack),
			PlaneCos:    0,
			Objective:   rays[j],
			Suggestions: suggestions(previous, j, wrist, proto.Lengths[j], rays[j], flexion, &predicted),
		})
		if err != nil {
			return Reconstruction{}, false, err
		}
	}

	for f := skeleton.Thumb; f < skeleton.NumFingers; f++ {
		limits := a.config.Finger
		if f == skeleton.Thumb {
			limits = a.config.Thumb
		}

		joints := f.Joints()
		base := rec.Hand.Joints[joints[0]]
		parentDir, err := geom.Normalize(r3.Sub(base, wrist))
		if err != nil {
			return Reconstruction{}, false, fmt.Errorf("%s base coincides with the wrist", f)
		}
		// Flexion rotates each bone about this axis.
		axis, err := geom.Normalize(geom.Cross(normal, parentDir))
		if err != nil {
			axis = solvedFrame.VecRow(1)
		}

		for k := 1; k < len(joints); k++ {
			j, p := joints[k], joints[k-1]
			center := rec.Hand.Joints[p]
			tangent := geom.Cross(axis, parentDir)
			err := place(j, cone.Problem{
				Center:      center,
				Normal:      parentDir,
				Tangent:     tangent,
				Radius:      proto.Lengths[j],
				NormCos:     math.Cos(limits.MaxFlex),
				PlaneCos:    math.Cos(limits.MaxAbduction),
				Objective:   rays[j],
				Suggestions: suggestions(previous, j, center, proto.Lengths[j], rays[j], tangent, nil),
			})
			if err != nil {
				return Reconstruction{}, false, err
			}
			parentDir = geom.MustNormalize(r3.Sub(rec.Hand.Joints[j], center))
		}
	}

	return rec, true, nil
}

// better reports whether rec beats best: a lower score, or on a tie, a hand
// closer to the previous frame.
func (a *Assembler) better(rec, best Reconstruction, previous *skeleton.Hand) bool {
	diff := rec.Score - best.Score
	if diff < -a.config.ScoreTol {
		return true
	}
	if diff > a.config.ScoreTol || previous == nil {
		return false
	}
	return skeleton.Distance(rec.Hand, *previous) < skeleton.Distance(best.Hand, *previous)
}

// palmRotation maps prototype palm directions onto the solved palm: first
// the palm normals are aligned, then the result is turned about the solved
// normal until the index directions agree.
func palmRotation(protoFrame, solvedFrame *r3.Mat) (*r3.Mat, error) {
	normal := solvedFrame.VecRow(2)
	align, err := geom.MappingRotation(protoFrame.VecRow(2), normal)
	if err != nil {
		return nil, err
	}
	angle := geom.SignedAngle(align.MulVec(protoFrame.VecRow(0)), solvedFrame.VecRow(0), normal)
	turn, err := geom.AxisAngleRotation(normal, angle)
	if err != nil {
		return nil, err
	}
	var rot r3.Mat
	rot.Mul(turn, align)
	return &rot, nil
}

// suggestions lists warm starts for joint j on the sphere of radius around
// center: the previous frame's joint, the rigid prediction, and the points
// where the joint's ray meets the sphere. The cone solver keeps the first of
// equally good starts, so the intersection nearest the previous joint comes
// first, or without one, the intersection further along tangent.
func suggestions(previous *skeleton.Hand, j int, center r3.Vec, radius float64, ray, tangent r3.Vec, predicted *r3.Vec) []r3.Vec {
	var out []r3.Vec
	if previous != nil {
		out = append(out, previous.Joints[j])
	}
	if predicted != nil {
		out = append(out, *predicted)
	}

	hits := intersect(ray, center, radius)
	key := func(q r3.Vec) float64 {
		if previous != nil {
			return r3.Norm2(r3.Sub(q, previous.Joints[j]))
		}
		return -r3.Dot(r3.Sub(q, center), tangent)
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return key(hits[a]) < key(hits[b])
	})
	return append(out, hits...)
}

// intersect returns the points in front of the camera where the unit ray
// meets the sphere. When it misses, the point of closest approach is
// returned instead.
func intersect(ray, center r3.Vec, radius float64) []r3.Vec {
	b := r3.Dot(ray, center)
	disc := b*b - r3.Norm2(center) + radius*radius
	if disc < 0 {
		if b <= 0 {
			return nil
		}
		return []r3.Vec{r3.Scale(b, ray)}
	}

	root := math.Sqrt(disc)
	var out []r3.Vec
	for _, t := range []float64{b + root, b - root} {
		if t > 0 {
			out = append(out, r3.Scale(t, ray))
		}
	}
	return out
}

func inFront(r triangle.Result) bool {
	for _, s := range r.Scalars {
		if s <= 0 {
			return false
		}
	}
	return true
}

func cosine(p, ray r3.Vec) float64 {
	n := r3.Norm(p)
	if n == 0 {
		return 0
	}
	return r3.Dot(p, ray) / n
}
