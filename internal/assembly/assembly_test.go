package assembly

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/cone"
	"github.com/ayusman/handlift/internal/geom"
	"github.com/ayusman/handlift/internal/handtest"
	"github.com/ayusman/handlift/internal/monitoring"
	"github.com/ayusman/handlift/internal/prototype"
	"github.com/ayusman/handlift/internal/skeleton"
	"github.com/ayusman/handlift/internal/triangle"
)

func muteLogger(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func newAssembler() *Assembler {
	return New(DefaultConfig(), triangle.NewSolver(triangle.DefaultConfig()), cone.NewSolver(cone.DefaultConfig()))
}

func trainedPrototype(t *testing.T) *prototype.Hand {
	t.Helper()
	samples, err := handtest.LoadSamples("calibration")
	require.NoError(t, err)
	proto, err := prototype.NewTrainer().TrainRaw(samples)
	require.NoError(t, err)
	return proto
}

func frameOf(h skeleton.Hand, previous *skeleton.Hand) Frame {
	return Frame{Rays: h.Rays(), Previous: previous}
}

func TestAssembleTracksPreviousHand(t *testing.T) {
	muteLogger(t)
	proto := trainedPrototype(t)
	truth := handtest.Hand(handtest.DefaultPose())

	rec, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(1, 1)), frameOf(truth, &truth), proto)
	require.NoError(t, err)

	assert.True(t, rec.Converged)
	assert.InDelta(t, -18, rec.Score, 1e-6)
	assert.GreaterOrEqual(t, rec.Candidates, 1)
	assert.Less(t, rec.Candidate, rec.Candidates)
	for j := range truth.Joints {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(rec.Hand.Joints[j], truth.Joints[j])), 1e-3, "joint %d", j)
	}
	assert.Empty(t, skeleton.Inconsistencies(rec.Hand, truth, 1e-6))
}

func TestAssembleFollowsMotion(t *testing.T) {
	muteLogger(t)
	proto := trainedPrototype(t)

	previous := handtest.Hand(handtest.DefaultPose())
	pose := handtest.DefaultPose()
	pose.Translation = r3.Add(pose.Translation, r3.Vec{X: 0.002, Z: 0.003})
	truth := handtest.Hand(pose)

	rec, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(3, 3)), frameOf(truth, &previous), proto)
	require.NoError(t, err)

	for j := range truth.Joints {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(rec.Hand.Joints[j], truth.Joints[j])), 1e-3, "joint %d", j)
	}
}

func TestAssembleWithoutPrevious(t *testing.T) {
	muteLogger(t)
	proto := trainedPrototype(t)
	truth := handtest.Hand(handtest.DefaultPose())
	rays := truth.Rays()

	for seed := uint64(1); seed <= 3; seed++ {
		rec, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(seed, seed)), frameOf(truth, nil), proto)
		require.NoError(t, err, "seed %d", seed)

		assert.GreaterOrEqual(t, rec.Score, -18-1e-9, "seed %d", seed)

		// The palm triangle lies on its rays.
		for _, j := range []int{skeleton.Wrist, skeleton.IndexMCP, skeleton.PinkyMCP} {
			p := rec.Hand.Joints[j]
			assert.InDelta(t, 0, r3.Norm(geom.Cross(p, rays[j])), 1e-6*r3.Norm(p)+1e-9, "seed %d joint %d", seed, j)
		}

		// Every other joint keeps the prototype's bone length.
		lengths := rec.Hand.Lengths()
		for j := 1; j < skeleton.NumJoints; j++ {
			if j == skeleton.IndexMCP || j == skeleton.PinkyMCP {
				continue
			}
			assert.InDelta(t, proto.Lengths[j], lengths[j], 1e-9, "seed %d bone %d", seed, j)
		}
	}
}

func TestAssembleRespectsFlexionLimit(t *testing.T) {
	muteLogger(t)
	proto := trainedPrototype(t)

	// A fist bent far past the limit.
	truth := handtest.Hand(handtest.Pose{Flex: 2.2, Translation: r3.Vec{Y: -0.05, Z: 0.4}})
	cfg := DefaultConfig()

	rec, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(5, 5)), frameOf(truth, nil), proto)
	require.NoError(t, err)

	for f := skeleton.Thumb; f < skeleton.NumFingers; f++ {
		limit := cfg.Finger.MaxFlex
		if f == skeleton.Thumb {
			limit = cfg.Thumb.MaxFlex
		}
		joints := f.Joints()
		for k := 1; k < len(joints); k++ {
			parent := rec.Hand.Joints[skeleton.Parent(joints[k-1])]
			a := r3.Sub(rec.Hand.Joints[joints[k-1]], parent)
			b := r3.Sub(rec.Hand.Joints[joints[k]], rec.Hand.Joints[joints[k-1]])
			angle := math.Acos(math.Max(-1, math.Min(1, r3.Dot(r3.Unit(a), r3.Unit(b)))))
			assert.LessOrEqual(t, angle, limit+1e-6, "%s joint %d", f, joints[k])
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	muteLogger(t)
	proto := trainedPrototype(t)
	frame := frameOf(handtest.Hand(handtest.DefaultPose()), nil)

	a, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(9, 9)), frame, proto)
	require.NoError(t, err)
	b, err := newAssembler().Assemble(context.Background(), rand.New(rand.NewPCG(9, 9)), frame, proto)
	require.NoError(t, err)

	assert.Equal(t, a.Hand, b.Hand)
	assert.Equal(t, a.Score, b.Score)
}

func TestAssembleInvalidFrame(t *testing.T) {
	proto := trainedPrototype(t)
	rng := rand.New(rand.NewPCG(1, 1))

	frame := frameOf(handtest.Hand(handtest.DefaultPose()), nil)
	frame.Rays[skeleton.RingTip] = r3.Vec{}
	_, err := newAssembler().Assemble(context.Background(), rng, frame, proto)
	assert.True(t, errors.Is(err, ErrInvalidFrame), "got %v", err)

	_, err = newAssembler().Assemble(context.Background(), rng, frameOf(handtest.Hand(handtest.DefaultPose()), nil), nil)
	assert.True(t, errors.Is(err, ErrInvalidFrame), "got %v", err)
}

func TestAssembleCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAssembler().Assemble(ctx, rand.New(rand.NewPCG(1, 1)), frameOf(handtest.Hand(handtest.DefaultPose()), nil), trainedPrototype(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntersect(t *testing.T) {
	ray := r3.Vec{Z: 1}

	hits := intersect(ray, r3.Vec{Z: 2}, 0.5)
	require.Len(t, hits, 2)
	assert.InDelta(t, 2.5, hits[0].Z, 1e-12)
	assert.InDelta(t, 1.5, hits[1].Z, 1e-12)

	// Missing the sphere gives the closest point on the ray.
	hits = intersect(ray, r3.Vec{X: 1, Z: 2}, 0.5)
	require.Len(t, hits, 1)
	assert.InDelta(t, 2, hits[0].Z, 1e-12)

	// Spheres behind the camera give nothing.
	assert.Empty(t, intersect(ray, r3.Vec{X: 1, Z: -2}, 0.5))
}

func TestPalmRotation(t *testing.T) {
	var rot r3.Mat
	rot.Mul(geom.ElementaryRotation(geom.AxisX, 0.4), geom.ElementaryRotation(geom.AxisZ, -1.1))
	from := r3.Eye()
	to := geom.Rows(rot.MulVec(geom.UnitX), rot.MulVec(geom.UnitY), rot.MulVec(geom.UnitZ))

	got, err := palmRotation(from, to)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got, &rot, 1e-9), "got %v want %v", mat.Formatted(got), mat.Formatted(&rot))
}
