package skeleton

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

const epsilon = 1e-9

func sampleHand() Hand {
	var h Hand
	for i := range h.Joints {
		h.Joints[i] = r3.Vec{
			X: 10.0 + float64(i),
			Y: 20.0 + 0.5*float64(i*i),
			Z: 5.0 - float64(i%4),
		}
	}
	return h
}

func TestParent(t *testing.T) {
	tests := []struct {
		joint int
		want  int
	}{
		{Wrist, -1},
		{ThumbCMC, Wrist},
		{ThumbMCP, ThumbCMC},
		{ThumbTip, ThumbIP},
		{IndexMCP, Wrist},
		{MiddleDIP, MiddlePIP},
		{RingMCP, Wrist},
		{PinkyTip, PinkyDIP},
		{NumJoints, -1},
	}

	for _, tt := range tests {
		if got := Parent(tt.joint); got != tt.want {
			t.Errorf("Parent(%d) = %d, want %d", tt.joint, got, tt.want)
		}
	}
}

func TestBones(t *testing.T) {
	bones := Bones()
	if len(bones) != NumJoints-1 {
		t.Fatalf("expected %d bones, got %d", NumJoints-1, len(bones))
	}
	seen := make(map[int]bool)
	for _, b := range bones {
		if seen[b.Child] {
			t.Errorf("joint %d appears twice as a child", b.Child)
		}
		seen[b.Child] = true
		if b.Parent >= b.Child {
			t.Errorf("bone %v: parent must precede child", b)
		}
	}
}

func TestFingerRoundTrip(t *testing.T) {
	h := sampleHand()

	var fingers [NumFingers][4]r3.Vec
	for f := Thumb; f < NumFingers; f++ {
		fingers[f] = h.Finger(f)
	}
	if got := h.Finger(Middle)[0]; got != h.Joints[MiddleMCP] {
		t.Errorf("middle finger base = %v, want %v", got, h.Joints[MiddleMCP])
	}

	back := FromFingers(h.Joints[Wrist], fingers)
	if back != h {
		t.Errorf("FromFingers(Finger...) did not reproduce the hand")
	}
}

func TestFingerString(t *testing.T) {
	if Pinky.String() != "pinky" {
		t.Errorf("Pinky.String() = %q", Pinky.String())
	}
	if Finger(9).String() != "finger(9)" {
		t.Errorf("out of range finger = %q", Finger(9).String())
	}
}

func TestInconsistencies(t *testing.T) {
	a := sampleHand()
	if got := Inconsistencies(a, a, ConsistencyTol); len(got) != 0 {
		t.Fatalf("identical hands reported %v", got)
	}

	// Rigid motion keeps every bone length.
	b := a
	for i := range b.Joints {
		b.Joints[i] = r3.Add(b.Joints[i], r3.Vec{X: -4, Y: 2, Z: 7})
	}
	if got := Inconsistencies(a, b, ConsistencyTol); len(got) != 0 {
		t.Fatalf("translated hand reported %v", got)
	}

	// Moving the ring tip changes only the last ring segment.
	b.Joints[RingTip] = r3.Add(b.Joints[RingTip], r3.Vec{X: 0.5})
	got := Inconsistencies(a, b, ConsistencyTol)
	if len(got) != 1 {
		t.Fatalf("expected 1 inconsistency, got %v", got)
	}
	if got[0].Bone != (Bone{Parent: RingDIP, Child: RingTip}) {
		t.Errorf("unexpected bone %v", got[0].Bone)
	}
	if !strings.HasPrefix(got[0].String(), "ring segment 2") {
		t.Errorf("unexpected description %q", got[0].String())
	}
}

func TestHandJSON(t *testing.T) {
	h := sampleHand()
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"joints":[{"x":10,`) {
		t.Errorf("unexpected encoding %s", data)
	}

	var back Hand
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != h {
		t.Errorf("decoded hand differs")
	}

	if err := json.Unmarshal([]byte(`{"joints":[{"x":1,"y":2,"z":3}]}`), &back); err == nil {
		t.Error("expected error for a hand with one joint")
	}
}

func TestDistance(t *testing.T) {
	a := sampleHand()
	b := a
	b.Joints[ThumbTip] = r3.Add(b.Joints[ThumbTip], r3.Vec{Y: 3})
	b.Joints[PinkyTip] = r3.Add(b.Joints[PinkyTip], r3.Vec{Z: 4})
	if d := Distance(a, b); math.Abs(d-5) > epsilon {
		t.Errorf("Distance() = %f, want 5", d)
	}
}

func TestRays(t *testing.T) {
	var h Hand
	h.Joints[IndexTip] = r3.Vec{X: 3, Z: 4}
	rays := h.Rays()
	if rays[Wrist] != (r3.Vec{}) {
		t.Errorf("joint at origin should give a zero ray, got %v", rays[Wrist])
	}
	if math.Abs(rays[IndexTip].X-0.6) > epsilon || math.Abs(rays[IndexTip].Z-0.8) > epsilon {
		t.Errorf("unexpected ray %v", rays[IndexTip])
	}
}
