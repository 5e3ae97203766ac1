// Package triangle places three points on three rays from a common origin so
// that their pairwise distances match three target lengths. It is used to
// lift the palm triangle of a hand from ray directions alone.
package triangle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ayusman/handlift/internal/geom"
	"github.com/ayusman/handlift/internal/monitoring"
)

// ErrInvalidInput is returned for rays or distances the system cannot be
// built from: zero-length rays, non-positive or non-finite distances, or a
// missing random generator.
var ErrInvalidInput = errors.New("invalid triangle input")

// Newton iteration tolerances.
const (
	residualTol = 1e-12
	stepTol     = 1e-12
	minStep     = 1.0 / 1024
)

// Restart distribution guards. The spread of the initial guesses is kept
// between minSpread and maxSpread times their mean; minSpread is also the
// spread used when the ratio statistics are not available.
const (
	minCosine = 1e-6
	minSpread = 0.05
	maxSpread = 2.0
)

// Config holds the root-finder settings.
type Config struct {
	// MaxErr is the residual norm under which a root is accepted.
	MaxErr float64
	// MaxRestart is the number of random initial guesses tried per solve.
	MaxRestart int
	// MaxIterations bounds the Newton iterations of a single restart.
	MaxIterations int
	// MaxTrials bounds the solves SolvePair spends separating its outputs.
	MaxTrials int
	// RetryRestarts is the restart budget of each separating retry.
	RetryRestarts int
	// SeparationTol is the distance under which two solutions are the same.
	SeparationTol float64
	// Budget bounds the wall time of one solve. Zero disables the limit.
	Budget time.Duration
}

// DefaultConfig returns a Config with the reference settings.
func DefaultConfig() Config {
	return Config{
		MaxErr:        1e-3,
		MaxRestart:    1000,
		MaxIterations: 100,
		MaxTrials:     10,
		RetryRestarts: 10,
		SeparationTol: 1e-5,
		Budget:        2 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxErr <= 0 {
		c.MaxErr = d.MaxErr
	}
	if c.MaxRestart <= 0 {
		c.MaxRestart = d.MaxRestart
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxTrials <= 0 {
		c.MaxTrials = d.MaxTrials
	}
	if c.RetryRestarts <= 0 {
		c.RetryRestarts = d.RetryRestarts
	}
	if c.SeparationTol <= 0 {
		c.SeparationTol = d.SeparationTol
	}
	if c.Budget < 0 {
		c.Budget = 0
	}
	return c
}

// Result is the outcome of one solve. Points are expressed in the frame of
// the input rays; Scalars are the signed distances along each ray.
type Result struct {
	Points     [3]r3.Vec
	Scalars    [3]float64
	Residual   float64
	Converged  bool
	Restarts   int
	Diagnostic string
}

// Solver finds points on three rays matching three distances.
type Solver struct {
	config Config
}

// NewSolver creates a Solver. Zero fields of config take default values.
func NewSolver(config Config) *Solver {
	return &Solver{config: config.withDefaults()}
}

// Config returns the effective configuration.
func (s *Solver) Config() Config {
	return s.config
}

// Solve returns the three points, one per ray, whose pairwise distances match
// d. Restart guesses are drawn from rng.
//
// Failing to reach MaxErr is not an error: the lowest-residual root found is
// returned with Converged set to false and a diagnostic.
func (s *Solver) Solve(ctx context.Context, rng *rand.Rand, rays [3]r3.Vec, d Distances) (Result, error) {
	return s.solve(ctx, rng, rays, d, s.config.MaxRestart)
}

// Refine runs the Newton iteration from a single known guess of the ray
// scalars, such as the previous frame's solution.
func (s *Solver) Refine(ctx context.Context, rays [3]r3.Vec, d Distances, guess [3]float64) (Result, error) {
	unit, err := validate(rays, d)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	params := NewParams(unit, d)
	root, ok := s.newton(params, guess)
	if !ok {
		return Result{Residual: math.Inf(1), Diagnostic: "refine: iteration diverged"}, nil
	}

	residual := params.residualNorm(root)
	res := buildResult(unit, forward(root), residual, residual < s.config.MaxErr, 1)
	if !res.Converged {
		res.Diagnostic = fmt.Sprintf("refine: residual %g above %g", residual, s.config.MaxErr)
	}
	return res, nil
}

func (s *Solver) solve(ctx context.Context, rng *rand.Rand, rays [3]r3.Vec, d Distances, maxRestart int) (Result, error) {
	if rng == nil {
		return Result{}, fmt.Errorf("%w: nil random generator", ErrInvalidInput)
	}
	unit, err := validate(rays, d)
	if err != nil {
		return Result{}, err
	}

	params := NewParams(unit, d)
	normal := restartDistribution(params)
	normal.Src = rng
	started := time.Now()

	var (
		bestRoot  [3]float64
		bestErr   = math.Inf(1)
		restarts  int
		exhausted string
	)

	for restarts < maxRestart {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if s.config.Budget > 0 && time.Since(started) > s.config.Budget {
			exhausted = fmt.Sprintf("time budget %s exhausted", s.config.Budget)
			break
		}
		restarts++

		guess := [3]float64{normal.Rand(), normal.Rand(), normal.Rand()}
		root, ok := s.newton(params, guess)
		if !ok {
			continue
		}

		residual := params.residualNorm(root)
		root = forward(root)
		if residual < s.config.MaxErr {
			return buildResult(unit, root, residual, true, restarts), nil
		}
		if residual < bestErr {
			bestRoot = root
			bestErr = residual
		}
	}

	if exhausted == "" {
		exhausted = fmt.Sprintf("%d restarts exhausted", restarts)
	}
	res := buildResult(unit, bestRoot, bestErr, false, restarts)
	res.Diagnostic = fmt.Sprintf("%s, best residual %g (maxerr %g)", exhausted, bestErr, s.config.MaxErr)
	monitoring.Logf("WARNING: triangle: %s", res.Diagnostic)
	return res, nil
}

// newton runs a damped Newton iteration on the ray system from x. It reports
// false when the iterate is not finite.
func (s *Solver) newton(p Params, x [3]float64) ([3]float64, bool) {
	f := p.residualNorm(x)

	for it := 0; it < s.config.MaxIterations && f > residualTol; it++ {
		r := p.Residuals(x)
		jac := mat.NewDense(3, 3, p.Jacobian(x))
		rhs := mat.NewVecDense(3, []float64{-r[0], -r[1], -r[2]})

		var step mat.VecDense
		if err := step.SolveVec(jac, rhs); err != nil {
			// An ill-conditioned Jacobian still yields a step; a singular one does not.
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				break
			}
		}
		delta := [3]float64{step.AtVec(0), step.AtVec(1), step.AtVec(2)}
		if !finite(delta) {
			break
		}

		t := 1.0
		var next [3]float64
		var fn float64
		for {
			for i := range next {
				next[i] = x[i] + t*delta[i]
			}
			fn = p.residualNorm(next)
			if fn < f || t < minStep {
				break
			}
			t /= 2
		}
		if !(fn < f) {
			break
		}

		moved := t * math.Sqrt(delta[0]*delta[0]+delta[1]*delta[1]+delta[2]*delta[2])
		x, f = next, fn
		if moved < stepTol*(1+math.Sqrt(x[0]*x[0]+x[1]*x[1]+x[2]*x[2])) {
			break
		}
	}

	return x, finite(x)
}

// restartDistribution scales initial guesses to the expected depth of the
// points: the distance of the most aligned ray pair over its cosine, with the
// spread of distance/cosine across the pairs.
func restartDistribution(p Params) distuv.Normal {
	d := p.values()
	c := p.cosines()

	imax := 0
	for i := 1; i < 3; i++ {
		if c[i] > c[imax] {
			imax = i
		}
	}

	mean := d[imax] / c[imax]
	if c[imax] < minCosine || math.IsNaN(mean) || math.IsInf(mean, 0) {
		mean = stat.Mean(d[:], nil)
	}

	ratios := make([]float64, 0, 3)
	for i := range c {
		if c[i] >= minCosine {
			ratios = append(ratios, d[i]/c[i])
		}
	}
	sigma := math.NaN()
	if len(ratios) > 1 {
		sigma = stat.PopVariance(ratios, nil)
	}
	if math.IsNaN(sigma) || sigma < minSpread*mean {
		sigma = minSpread * mean
	}
	if sigma > maxSpread*mean {
		sigma = maxSpread * mean
	}

	return distuv.Normal{Mu: mean, Sigma: sigma}
}

// forward applies the sign convention: the system is invariant under s -> -s,
// so the root with a non-negative first scalar is kept.
func forward(s [3]float64) [3]float64 {
	if s[0] < 0 {
		return [3]float64{-s[0], -s[1], -s[2]}
	}
	return s
}

func buildResult(rays [3]r3.Vec, s [3]float64, residual float64, converged bool, restarts int) Result {
	res := Result{
		Scalars:   s,
		Residual:  residual,
		Converged: converged,
		Restarts:  restarts,
	}
	for i := range rays {
		res.Points[i] = r3.Scale(s[i], rays[i])
	}
	return res
}

func validate(rays [3]r3.Vec, d Distances) ([3]r3.Vec, error) {
	var unit [3]r3.Vec
	for i, ray := range rays {
		u, err := geom.Normalize(ray)
		if err != nil {
			return unit, fmt.Errorf("%w: ray %d: %v", ErrInvalidInput, i, err)
		}
		unit[i] = u
	}
	for i, v := range d.values() {
		if !(v > 0) || math.IsInf(v, 0) {
			return unit, fmt.Errorf("%w: distance %d is %g, must be positive", ErrInvalidInput, i, v)
		}
	}
	return unit, nil
}

func finite(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
