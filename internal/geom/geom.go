// Package geom provides the vector and rotation helpers used by the solvers:
// normalization, cross products, elementary and axis-angle rotations, and the
// rotation mapping one direction onto another.
package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrZeroVector is returned when a direction is required but the vector has
// (numerically) zero length.
var ErrZeroVector = errors.New("zero-length vector")

// zeroNorm is the length below which a vector cannot be normalized.
const zeroNorm = 1e-12

// parallelTol is the relative cross-product magnitude under which two
// directions are treated as parallel by MappingRotation.
const parallelTol = 1e-10

// Axis identifies one of the canonical coordinate axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

var (
	UnitX = r3.Vec{X: 1}
	UnitY = r3.Vec{Y: 1}
	UnitZ = r3.Vec{Z: 1}
)

// Normalize returns v/|v|.
func Normalize(v r3.Vec) (r3.Vec, error) {
	n := r3.Norm(v)
	if n < zeroNorm || math.IsNaN(n) || math.IsInf(n, 0) {
		return r3.Vec{}, ErrZeroVector
	}
	return r3.Scale(1/n, v), nil
}

// MustNormalize is Normalize for vectors already known to be nonzero.
// It panics on a zero vector.
func MustNormalize(v r3.Vec) r3.Vec {
	u, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return u
}

// IsFinite reports whether every component of v is finite.
func IsFinite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Cross returns a x b through the skew-symmetric cross-product matrix of a.
func Cross(a, b r3.Vec) r3.Vec {
	var skew r3.Mat
	skew.Skew(a)
	return skew.MulVec(b)
}

// Rows builds a matrix from three row vectors.
func Rows(a, b, c r3.Vec) *r3.Mat {
	return r3.NewMat([]float64{
		a.X, a.Y, a.Z,
		b.X, b.Y, b.Z,
		c.X, c.Y, c.Z,
	})
}

// Basis returns the matrix whose rows are {normal, tangent, normal x tangent}.
// MulVec expresses a vector in that basis and MulVecTrans maps it back.
func Basis(normal, tangent r3.Vec) *r3.Mat {
	return Rows(normal, tangent, Cross(normal, tangent))
}

// ElementaryRotation returns the right-handed rotation by angle (radians)
// about a canonical axis.
func ElementaryRotation(axis Axis, angle float64) *r3.Mat {
	s, c := math.Sincos(angle)
	switch axis {
	case AxisX:
		return r3.NewMat([]float64{
			1, 0, 0,
			0, c, -s,
			0, s, c,
		})
	case AxisY:
		return r3.NewMat([]float64{
			c, 0, s,
			0, 1, 0,
			-s, 0, c,
		})
	default:
		return r3.NewMat([]float64{
			c, -s, 0,
			s, c, 0,
			0, 0, 1,
		})
	}
}

// AxisAngleQuat converts a rotation of angle radians about axis into a unit
// quaternion.
func AxisAngleQuat(axis r3.Vec, angle float64) (quat.Number, error) {
	u, err := Normalize(axis)
	if err != nil {
		return quat.Number{}, err
	}
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: s * u.X, Jmag: s * u.Y, Kmag: s * u.Z}, nil
}

// QuatToMat returns the rotation matrix of the unit quaternion q.
func QuatToMat(q quat.Number) *r3.Mat {
	return r3.Rotation(q).Mat()
}

// AxisAngleRotation returns the rotation by angle radians about an arbitrary
// axis vector.
func AxisAngleRotation(axis r3.Vec, angle float64) (*r3.Mat, error) {
	q, err := AxisAngleQuat(axis, angle)
	if err != nil {
		return nil, err
	}
	return QuatToMat(q), nil
}

// MappingRotation returns a rotation R such that R*v1 is parallel to v2 and
// points the same way.
//
// When v1 and v2 are parallel the identity is returned; when they are
// antiparallel the result is a half turn about an axis orthogonal to v1,
// chosen from v1 x z, or v1 x x when v1 lies along z.
func MappingRotation(v1, v2 r3.Vec) (*r3.Mat, error) {
	n1 := r3.Norm(v1)
	n2 := r3.Norm(v2)
	if n1 < zeroNorm || n2 < zeroNorm {
		return nil, ErrZeroVector
	}

	axis := Cross(v1, v2)
	if r3.Norm(axis) <= n1*n2*parallelTol {
		if r3.Dot(v1, v2) > 0 {
			return r3.Eye(), nil
		}
		aux := Cross(v1, UnitZ)
		if r3.Norm(aux) <= n1*parallelTol {
			aux = Cross(v1, UnitX)
		}
		aux = MustNormalize(aux)
		return QuatToMat(quat.Number{Imag: aux.X, Jmag: aux.Y, Kmag: aux.Z}), nil
	}

	cos := clamp(r3.Dot(v1, v2)/n1/n2, -1, 1)
	return AxisAngleRotation(axis, math.Acos(cos))
}

// SignedAngle returns the angle that rotates a onto b about axis, in
// (-pi, pi]. a and b are expected to be orthogonal to axis.
func SignedAngle(a, b, axis r3.Vec) float64 {
	return math.Atan2(r3.Dot(axis, Cross(a, b)), r3.Dot(a, b))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
