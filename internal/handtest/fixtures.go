// Package handtest provides synthetic hands and recorded calibration samples
// for tests.
package handtest

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/geom"
	"github.com/ayusman/handlift/internal/skeleton"
)

//go:embed hands/*
var handsFS embed.FS

// Finger bases in the hand frame (meters): wrist at the origin, fingers along
// +y, palm normal along +z.
var bases = [skeleton.NumFingers]r3.Vec{
	{X: 0.025, Y: 0.025},
	{X: 0.03, Y: 0.09},
	{X: 0.008, Y: 0.095},
	{X: -0.012, Y: 0.09},
	{X: -0.03, Y: 0.08},
}

// Segment lengths from base to tip.
var segments = [skeleton.NumFingers][3]float64{
	{0.035, 0.03, 0.025},
	{0.045, 0.025, 0.02},
	{0.05, 0.03, 0.022},
	{0.045, 0.028, 0.02},
	{0.035, 0.02, 0.018},
}

// facing turns the hand frame so that the palm normal points at a camera
// looking along +z.
var facing = geom.ElementaryRotation(geom.AxisY, math.Pi)

// Pose places the synthetic hand in camera coordinates.
type Pose struct {
	// Flex is the bend of every finger joint towards the palm, in radians.
	Flex float64
	// Rotation is applied after the hand is turned to face the camera. Nil
	// means no rotation.
	Rotation    *r3.Mat
	Translation r3.Vec
}

// DefaultPose is a slightly bent hand 40cm in front of the camera.
func DefaultPose() Pose {
	return Pose{
		Flex:        0.3,
		Rotation:    geom.ElementaryRotation(geom.AxisX, 0.15),
		Translation: r3.Vec{X: 0.01, Y: -0.05, Z: 0.4},
	}
}

// Hand builds the synthetic hand for p. Every finger bends in the plane of
// its wrist-to-base direction and the palm normal.
func Hand(p Pose) skeleton.Hand {
	rot := p.Rotation
	if rot == nil {
		rot = r3.Eye()
	}
	var place r3.Mat
	place.Mul(rot, facing)
	normal := r3.Vec{Z: 1}

	var fingers [skeleton.NumFingers][4]r3.Vec
	for f := skeleton.Thumb; f < skeleton.NumFingers; f++ {
		base := bases[f]
		d0 := r3.Unit(base)
		fingers[f][0] = base

		pos := base
		for k, length := range segments[f] {
			s, c := math.Sincos(float64(k+1) * p.Flex)
			dir := r3.Sub(r3.Scale(c, d0), r3.Scale(s, normal))
			pos = r3.Add(pos, r3.Scale(length, dir))
			fingers[f][k+1] = pos
		}
	}
	local := skeleton.FromFingers(r3.Vec{}, fingers)

	var out skeleton.Hand
	for i, j := range local.Joints {
		out.Joints[i] = r3.Add(place.MulVec(j), p.Translation)
	}
	return out
}

// BoneLengths returns the bone lengths of the synthetic hand, indexed by the
// child joint.
func BoneLengths() [skeleton.NumJoints]float64 {
	var out [skeleton.NumJoints]float64
	for f := skeleton.Thumb; f < skeleton.NumFingers; f++ {
		joints := f.Joints()
		out[joints[0]] = r3.Norm(bases[f])
		for k, length := range segments[f] {
			out[joints[k+1]] = length
		}
	}
	return out
}

// LoadSamples loads a recorded set of calibration samples by name. Each
// sample is a hand object {"joints": [...]}.
func LoadSamples(name string) ([]json.RawMessage, error) {
	data, err := handsFS.ReadFile("hands/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load samples %s: %w", name, err)
	}

	var samples []json.RawMessage
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decode samples %s: %w", name, err)
	}
	return samples, nil
}
