package cone

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/geom"
)

// orthoTol is the |normal . tangent| above which the tangent is
// re-orthogonalized against the normal.
const orthoTol = 1e-8

// Problem describes one joint placement: a point on the sphere of Radius
// around Center, inside the cone of half-angle acos(NormCos) about Normal,
// within acos(PlaneCos) of the plane spanned by Normal and Tangent, seen from
// the origin as close as possible to the Objective direction.
type Problem struct {
	Center    r3.Vec
	Normal    r3.Vec
	Tangent   r3.Vec
	Radius    float64
	NormCos   float64
	PlaneCos  float64
	Objective r3.Vec
	// Suggestions are candidate points used to warm start the search.
	Suggestions []r3.Vec
}

// Params is a Problem expressed in the local basis {normal, tangent,
// normal x tangent}. A point on the sphere is then
//
//	Center + Radius * (a_n, a_t, +-sqrt(1 - a_n^2 - a_t^2))
//
// and the search runs over the two coordinates (a_n, a_t).
type Params struct {
	Basis    *r3.Mat
	Center   r3.Vec
	ObjLine  r3.Vec
	Radius   float64
	NormCos  float64
	PlaneCos float64
}

// NewParams validates p and rotates it into its local basis.
func NewParams(p Problem) (Params, error) {
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		return Params{}, fmt.Errorf("%w: radius %g must be positive", ErrInvalidInput, p.Radius)
	}
	if !(p.NormCos >= -1 && p.NormCos <= 1) {
		return Params{}, fmt.Errorf("%w: normcos %g outside [-1, 1]", ErrInvalidInput, p.NormCos)
	}
	if !(p.PlaneCos >= -1 && p.PlaneCos <= 1) {
		return Params{}, fmt.Errorf("%w: planecos %g outside [-1, 1]", ErrInvalidInput, p.PlaneCos)
	}
	if !geom.IsFinite(p.Center) {
		return Params{}, fmt.Errorf("%w: center is not finite", ErrInvalidInput)
	}

	normal, err := geom.Normalize(p.Normal)
	if err != nil {
		return Params{}, fmt.Errorf("%w: normal: %v", ErrInvalidInput, err)
	}
	tangent, err := geom.Normalize(p.Tangent)
	if err != nil {
		return Params{}, fmt.Errorf("%w: tangent: %v", ErrInvalidInput, err)
	}
	objective, err := geom.Normalize(p.Objective)
	if err != nil {
		return Params{}, fmt.Errorf("%w: objective: %v", ErrInvalidInput, err)
	}

	if math.Abs(r3.Dot(normal, tangent)) > orthoTol {
		tangent, err = geom.Normalize(geom.Cross(geom.Cross(normal, tangent), normal))
		if err != nil {
			return Params{}, fmt.Errorf("%w: tangent parallel to normal", ErrInvalidInput)
		}
	}

	basis := geom.Basis(normal, tangent)
	return Params{
		Basis:    basis,
		Center:   basis.MulVec(p.Center),
		ObjLine:  basis.MulVec(objective),
		Radius:   p.Radius,
		NormCos:  p.NormCos,
		PlaneCos: p.PlaneCos,
	}, nil
}

// Bounds is the box of admissible (a_n, a_t).
type Bounds struct {
	AnMin, AnMax float64
	AtMin, AtMax float64
}

// Bounds returns a_n in [normcos, 1] and a_t in [-sqrt(1-normcos^2), +sqrt(1-normcos^2)].
func (p Params) Bounds() Bounds {
	at := math.Sqrt(math.Max(0, 1-p.NormCos*p.NormCos))
	return Bounds{AnMin: p.NormCos, AnMax: 1, AtMin: -at, AtMax: at}
}

// Clip clamps a into the box.
func (b Bounds) Clip(a [2]float64) [2]float64 {
	return [2]float64{
		math.Max(b.AnMin, math.Min(b.AnMax, a[0])),
		math.Max(b.AtMin, math.Min(b.AtMax, a[1])),
	}
}

// Repair maps any (a_n, a_t) to a feasible one: inside the box and with
// planecos^2 <= a_n^2 + a_t^2 <= 1.
func (p Params) Repair(a [2]float64) [2]float64 {
	b := p.Bounds()
	a = b.Clip(a)
	an, at := a[0], a[1]

	if an*an+at*at > 1 {
		at = math.Copysign(math.Sqrt(math.Max(0, 1-an*an)), at)
	}

	pc2 := p.PlaneCos * p.PlaneCos
	if an*an+at*at < pc2 {
		target := math.Sqrt(math.Max(0, pc2-an*an))
		limit := math.Min(b.AtMax, math.Sqrt(math.Max(0, 1-an*an)))
		sign := 1.0
		if at < 0 {
			sign = -1
		}
		at = sign * math.Min(target, limit)

		if an*an+at*at < pc2 {
			grow := math.Sqrt(math.Max(0, pc2-at*at))
			if an >= 0 {
				an = math.Min(b.AnMax, grow)
			} else {
				an = math.Max(b.AnMin, -grow)
			}
		}
	}

	return [2]float64{an, at}
}

// Feasible reports whether a satisfies the box and radial constraints
// within tol.
func (p Params) Feasible(a [2]float64, tol float64) bool {
	b := p.Bounds()
	r2 := a[0]*a[0] + a[1]*a[1]
	return a[0] >= b.AnMin-tol && a[0] <= b.AnMax+tol &&
		a[1] >= b.AtMin-tol && a[1] <= b.AtMax+tol &&
		r2 <= 1+tol && r2 >= p.PlaneCos*p.PlaneCos-tol
}

// local returns the point for a on the chosen branch, in basis coordinates.
func (p Params) local(a [2]float64, negative bool) r3.Vec {
	w := math.Sqrt(math.Max(0, 1-a[0]*a[0]-a[1]*a[1]))
	if negative {
		w = -w
	}
	return r3.Add(p.Center, r3.Scale(p.Radius, r3.Vec{X: a[0], Y: a[1], Z: w}))
}

// score is the negative cosine between the point and the objective line, as seen
// from the origin. A point at the origin scores 0.
func (p Params) score(pt r3.Vec) float64 {
	n := r3.Norm(pt)
	if n < 1e-12 {
		return 0
	}
	return -r3.Dot(pt, p.ObjLine) / n
}

// Objective returns the lower score of the two branches of a.
func (p Params) Objective(a [2]float64) float64 {
	return math.Min(p.score(p.local(a, false)), p.score(p.local(a, true)))
}

// Extract maps a back to a world point. The negative branch is used only
// when it scores strictly lower.
func (p Params) Extract(a [2]float64) r3.Vec {
	pt := p.local(a, false)
	if neg := p.local(a, true); p.score(neg) < p.score(pt) {
		pt = neg
	}
	return p.Basis.MulVecTrans(pt)
}

// Project returns the (a_n, a_t) of the direction from the center to the
// world point v. It reports false when v coincides with the center.
func (p Params) Project(v r3.Vec) ([2]float64, bool) {
	d, err := geom.Normalize(r3.Sub(p.Basis.MulVec(v), p.Center))
	if err != nil {
		return [2]float64{}, false
	}
	return [2]float64{d.X, d.Y}, true
}
