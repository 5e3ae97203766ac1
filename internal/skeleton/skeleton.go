// Package skeleton defines the 21-joint hand layout shared by the solvers,
// the store and the API.
package skeleton

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Joint indices following the MediaPipe hand landmark convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist     = 0
	ThumbCMC  = 1
	ThumbMCP  = 2
	ThumbIP   = 3
	ThumbTip  = 4
	IndexMCP  = 5
	IndexPIP  = 6
	IndexDIP  = 7
	IndexTip  = 8
	MiddleMCP = 9
	MiddlePIP = 10
	MiddleDIP = 11
	MiddleTip = 12
	RingMCP   = 13
	RingPIP   = 14
	RingDIP   = 15
	RingTip   = 16
	PinkyMCP  = 17
	PinkyPIP  = 18
	PinkyDIP  = 19
	PinkyTip  = 20
	NumJoints = 21
)

// ConsistencyTol is the bone length difference reported by Inconsistencies.
const ConsistencyTol = 1e-4

// Finger identifies one of the five joint chains.
type Finger int

const (
	Thumb Finger = iota
	Index
	Middle
	Ring
	Pinky
	NumFingers
)

var fingerNames = [NumFingers]string{"thumb", "index", "middle", "ring", "pinky"}

func (f Finger) String() string {
	if f < 0 || f >= NumFingers {
		return fmt.Sprintf("finger(%d)", int(f))
	}
	return fingerNames[f]
}

// Joints returns the four joint indices of f from base to tip.
func (f Finger) Joints() [4]int {
	base := 1 + 4*int(f)
	return [4]int{base, base + 1, base + 2, base + 3}
}

// Parent returns the joint j hangs from: the previous joint of its finger,
// or the wrist for a finger base. The wrist has no parent and returns -1.
func Parent(j int) int {
	switch {
	case j <= Wrist || j >= NumJoints:
		return -1
	case (j-1)%4 == 0:
		return Wrist
	default:
		return j - 1
	}
}

// Bone is a rigid segment between a joint and its parent.
type Bone struct {
	Parent int
	Child  int
}

// Bones lists the 20 bones of the hand, wrist-to-base bones first for each
// finger, in joint order of the child.
func Bones() []Bone {
	bones := make([]Bone, 0, NumJoints-1)
	for j := 1; j < NumJoints; j++ {
		bones = append(bones, Bone{Parent: Parent(j), Child: j})
	}
	return bones
}

// Point3D is the wire form of a joint position.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec converts p to a vector.
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// PointOf converts v to its wire form.
func PointOf(v r3.Vec) Point3D {
	return Point3D{X: v.X, Y: v.Y, Z: v.Z}
}

// Hand holds the 21 joint positions in joint order.
type Hand struct {
	Joints [NumJoints]r3.Vec
}

type handJSON struct {
	Joints []Point3D `json:"joints"`
}

// MarshalJSON encodes the joints as a list of {x, y, z} objects.
func (h Hand) MarshalJSON() ([]byte, error) {
	out := handJSON{Joints: make([]Point3D, NumJoints)}
	for i, j := range h.Joints {
		out.Joints[i] = PointOf(j)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a hand written by MarshalJSON. Exactly 21 joints are
// required.
func (h *Hand) UnmarshalJSON(data []byte) error {
	var in handJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Joints) != NumJoints {
		return fmt.Errorf("hand has %d joints, expected %d", len(in.Joints), NumJoints)
	}
	for i, p := range in.Joints {
		h.Joints[i] = p.Vec()
	}
	return nil
}

// FromPoints builds a hand from exactly 21 points.
func FromPoints(points []r3.Vec) (Hand, error) {
	var h Hand
	if len(points) != NumJoints {
		return h, fmt.Errorf("got %d points, expected %d", len(points), NumJoints)
	}
	copy(h.Joints[:], points)
	return h, nil
}

// Finger returns the four joints of f from base to tip.
func (h Hand) Finger(f Finger) [4]r3.Vec {
	var out [4]r3.Vec
	for i, j := range f.Joints() {
		out[i] = h.Joints[j]
	}
	return out
}

// FromFingers assembles a hand from the wrist and the five finger chains.
func FromFingers(wrist r3.Vec, fingers [NumFingers][4]r3.Vec) Hand {
	var h Hand
	h.Joints[Wrist] = wrist
	for f := Thumb; f < NumFingers; f++ {
		for i, j := range f.Joints() {
			h.Joints[j] = fingers[f][i]
		}
	}
	return h
}

// BoneLength returns the length of b in h.
func (h Hand) BoneLength(b Bone) float64 {
	return r3.Norm(r3.Sub(h.Joints[b.Child], h.Joints[b.Parent]))
}

// Lengths returns the length of the bone ending at each joint, indexed by the
// child joint. The wrist entry is zero.
func (h Hand) Lengths() [NumJoints]float64 {
	var out [NumJoints]float64
	for _, b := range Bones() {
		out[b.Child] = h.BoneLength(b)
	}
	return out
}

// Inconsistency reports a bone whose length differs between two hands.
type Inconsistency struct {
	Bone       Bone
	Difference float64
}

func (i Inconsistency) String() string {
	finger := Finger((i.Bone.Child - 1) / 4)
	return fmt.Sprintf("%s segment %d differs by %g", finger, (i.Bone.Child-1)%4-1, i.Difference)
}

// Inconsistencies lists the finger segments whose lengths differ between a
// and b by more than tol. Segments between consecutive finger joints are
// compared; the wrist-to-base bones are not.
func Inconsistencies(a, b Hand, tol float64) []Inconsistency {
	var out []Inconsistency
	for _, bone := range Bones() {
		if bone.Parent == Wrist {
			continue
		}
		diff := math.Abs(a.BoneLength(bone) - b.BoneLength(bone))
		if diff > tol || math.IsNaN(diff) {
			out = append(out, Inconsistency{Bone: bone, Difference: diff})
		}
	}
	return out
}

// Distance is the Euclidean distance between two hands over all joints.
func Distance(a, b Hand) float64 {
	var sum float64
	for i := range a.Joints {
		sum += r3.Norm2(r3.Sub(a.Joints[i], b.Joints[i]))
	}
	return math.Sqrt(sum)
}

// Rays returns the unit viewing direction of every joint from the camera
// origin. A joint at the origin yields a zero vector.
func (h Hand) Rays() [NumJoints]r3.Vec {
	var out [NumJoints]r3.Vec
	for i, j := range h.Joints {
		if n := r3.Norm(j); n > 0 {
			out[i] = r3.Scale(1/n, j)
		}
	}
	return out
}
