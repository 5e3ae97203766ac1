// Package cone places a joint on the sphere around its parent joint, inside
// an admissible cone of directions, so that it lines up with an observed
// viewing ray.
//
// The sphere is rotated so the cone axis is canonical. The search then runs
// over two coordinates (a_n, a_t); the third follows from the unit length up
// to a sign, which is picked by the objective.
package cone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/monitoring"
)

// ErrInvalidInput is returned for problems with a non-positive radius,
// cosines outside [-1, 1] or zero-length directions.
var ErrInvalidInput = errors.New("invalid cone input")

const (
	// penaltyWeight scales the squared distance between an iterate and its
	// repaired point.
	penaltyWeight = 0.1
	// tieTol is the score difference under which a point and its mirror
	// across the normal plane are equally good.
	tieTol = 1e-12
)

// Config holds the optimizer budgets.
type Config struct {
	// MaxIterations bounds the Nelder-Mead iterations.
	MaxIterations int
	// FuncEvaluations bounds the objective evaluations.
	FuncEvaluations int
	// SimplexSize is the edge length of the initial simplex.
	SimplexSize float64
	// Tolerance is the objective improvement below which the search counts
	// as stalled.
	Tolerance float64
	// StallIterations is the number of stalled iterations that ends the search.
	StallIterations int
	// Budget bounds the wall time of one solve. Zero disables the limit.
	Budget time.Duration
}

// DefaultConfig returns the default optimizer budgets.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   500,
		FuncEvaluations: 5000,
		SimplexSize:     0.05,
		Tolerance:       1e-12,
		StallIterations: 30,
		Budget:          500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.FuncEvaluations <= 0 {
		c.FuncEvaluations = d.FuncEvaluations
	}
	if c.SimplexSize <= 0 {
		c.SimplexSize = d.SimplexSize
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.StallIterations <= 0 {
		c.StallIterations = d.StallIterations
	}
	if c.Budget < 0 {
		c.Budget = 0
	}
	return c
}

// Result is the outcome of one solve.
type Result struct {
	// Point is the joint position in world coordinates.
	Point r3.Vec
	// Coords are the (a_n, a_t) of Point in the local basis.
	Coords      [2]float64
	Objective   float64
	Converged   bool
	Status      optimize.Status
	Evaluations int
	Diagnostic  string
}

// Solver runs cone-constrained joint placements.
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

// Solve places the joint described by prob.
//
// The returned point always satisfies the constraints and never scores worse
// than the chosen start, nor than a search from the default start (1, 0). When the optimizer stops without
// converging, the repaired last iterate is still returned with Converged set
// to false.
func (s *Solver) Solve(ctx context.Context, prob Problem) (Result, error) {
	params, err := NewParams(prob)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// A cone of zero width leaves a single admissible direction.
	if params.NormCos >= 1 {
		a := [2]float64{1, 0}
		return Result{
			Point:     r3.Add(prob.Center, r3.Scale(params.Radius, params.Basis.VecRow(0))),
			Coords:    a,
			Objective: params.Objective(a),
			Converged: true,
			Status:    optimize.Success,
		}, nil
	}

	start, startScore := WarmStart(params, prob.Suggestions)
	found := s.search(ctx, params, start, startScore)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// A suggestion may seed a basin worse than the one reached from the
	// default start, so that start is searched as well.
	if def := params.Repair([2]float64{1, 0}); def != start {
		alt := s.search(ctx, params, def, params.Objective(def))
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		evals := found.evals + alt.evals
		if alt.score < found.score {
			found = alt
		}
		found.evals = evals
	}

	res := Result{Status: found.status, Evaluations: found.evals}
	res.Coords, res.Objective = preferPositive(params, found.coords, found.score)
	res.Point = params.Extract(res.Coords)
	res.Converged = found.err == nil && converged(res.Status)

	if !res.Converged {
		res.Diagnostic = fmt.Sprintf("optimizer stopped with status %v at %v", res.Status, found.raw)
		if found.err != nil {
			res.Diagnostic += ": " + found.err.Error()
		}
		monitoring.Logf("WARNING: cone: %s, returning repaired point %v", res.Diagnostic, res.Coords)
	}
	return res, nil
}

// searchResult is one optimizer run, repaired to the feasible set.
type searchResult struct {
	coords [2]float64
	score  float64
	status optimize.Status
	evals  int
	raw    []float64
	err    error
}

// search minimizes the penalized objective from start. The result is never
// worse than start.
func (s *Solver) search(ctx context.Context, params Params, start [2]float64, startScore float64) searchResult {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			a := [2]float64{x[0], x[1]}
			r := params.Repair(a)
			dn, dt := a[0]-r[0], a[1]-r[1]
			return params.Objective(r) + penaltyWeight*(dn*dn+dt*dt)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   s.config.Tolerance,
			Iterations: s.config.StallIterations,
		},
		MajorIterations: s.config.MaxIterations,
		FuncEvaluations: s.config.FuncEvaluations,
		Runtime:         s.runtime(ctx),
	}

	opt, err := optimize.Minimize(problem, start[:], settings, &optimize.NelderMead{SimplexSize: s.config.SimplexSize})
	out := searchResult{coords: start, score: startScore, status: optimize.Failure, err: err}
	if opt == nil {
		return out
	}
	out.status = opt.Status
	out.evals = opt.FuncEvaluations
	out.raw = opt.X
	if len(opt.X) == 2 {
		a := params.Repair([2]float64{opt.X[0], opt.X[1]})
		if score := params.Objective(a); score <= startScore {
			out.coords, out.score = a, score
		}
	}
	return out
}

// WarmStart picks the search start: (1, 0) unless a suggestion, repaired to
// the feasible set, scores lower by more than tieTol. Among equally good
// suggestions the first one wins.
func WarmStart(params Params, suggestions []r3.Vec) ([2]float64, float64) {
	best := params.Repair([2]float64{1, 0})
	bestScore := params.Objective(best)
	for _, v := range suggestions {
		a, ok := params.Project(v)
		if !ok {
			continue
		}
		a = params.Repair(a)
		if score := params.Objective(a); score < bestScore-tieTol {
			best, bestScore = a, score
		}
	}
	return best, bestScore
}

// preferPositive mirrors a to a_t >= 0 when the mirror scores the same.
func preferPositive(params Params, a [2]float64, score float64) ([2]float64, float64) {
	if a[1] >= 0 {
		return a, score
	}
	m := [2]float64{a[0], -a[1]}
	if ms := params.Objective(m); ms <= score+tieTol {
		return m, ms
	}
	return a, score
}

// runtime is the solver budget, shortened to the context deadline.
func (s *Solver) runtime(ctx context.Context) time.Duration {
	budget := s.config.Budget
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); budget == 0 || left < budget {
			budget = left
		}
	}
	if budget < 0 {
		budget = time.Nanosecond
	}
	return budget
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success,
		optimize.FunctionConvergence,
		optimize.MethodConverge,
		optimize.StepConvergence,
		optimize.FunctionThreshold:
		return true
	}
	return false
}
