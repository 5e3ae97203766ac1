package triangle

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Pair holds two independently found solutions of the same ray system.
//
// With the first scalar fixed non-negative the system still has up to four
// real roots: besides the intended triangle, a point can usually be slid
// along its ray to the other intersection with the sphere of radius d around
// its neighbour. Keeping two distinct roots lets callers pick the branch
// consistent with the rest of the hand.
type Pair struct {
	First     Result
	Second    Result
	Trials    int
	Separated bool
}

// Divergence is the Euclidean distance between the two point sets.
func (p Pair) Divergence() float64 {
	return Separation(p.First, p.Second)
}

// Results returns the distinct solutions of the pair: both when separated,
// otherwise only the first.
func (p Pair) Results() []Result {
	if p.Separated {
		return []Result{p.First, p.Second}
	}
	return []Result{p.First}
}

// SolvePair solves the system twice. While the two outputs coincide, the
// second one is re-solved with RetryRestarts restarts, up to MaxTrials solves
// in total. A pair is always returned; Separated reports whether the outputs
// differ.
func (s *Solver) SolvePair(ctx context.Context, rng *rand.Rand, rays [3]r3.Vec, d Distances) (Pair, error) {
	first, err := s.Solve(ctx, rng, rays, d)
	if err != nil {
		return Pair{}, err
	}
	second, err := s.Solve(ctx, rng, rays, d)
	if err != nil {
		return Pair{}, err
	}

	trials := 1
	for Separation(first, second) < s.config.SeparationTol && trials < s.config.MaxTrials {
		trials++
		second, err = s.solve(ctx, rng, rays, d, s.config.RetryRestarts)
		if err != nil {
			return Pair{}, err
		}
	}

	return Pair{
		First:     first,
		Second:    second,
		Trials:    trials,
		Separated: Separation(first, second) >= s.config.SeparationTol,
	}, nil
}

// Separation is the Euclidean distance between the point sets of a and b.
func Separation(a, b Result) float64 {
	var sum float64
	for i := range a.Points {
		sum += r3.Norm2(r3.Sub(a.Points[i], b.Points[i]))
	}
	return math.Sqrt(sum)
}
