package triangle

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Distances holds the three target distances between the points on rays 0, 1
// and 2.
type Distances struct {
	D01 float64 `json:"d01"`
	D02 float64 `json:"d02"`
	D12 float64 `json:"d12"`
}

// DistancesBetween measures the pairwise distances of a reference triangle,
// typically the palm of a prototype hand.
func DistancesBetween(p [3]r3.Vec) Distances {
	return Distances{
		D01: r3.Norm(r3.Sub(p[0], p[1])),
		D02: r3.Norm(r3.Sub(p[0], p[2])),
		D12: r3.Norm(r3.Sub(p[1], p[2])),
	}
}

func (d Distances) values() [3]float64 {
	return [3]float64{d.D01, d.D02, d.D12}
}

// Params are the scalars the ray system depends on: pairwise cosines of the
// ray directions and the target distances.
type Params struct {
	C01, C02, C12 float64
	D01, D02, D12 float64
}

// NewParams builds Params from unit ray directions.
func NewParams(rays [3]r3.Vec, d Distances) Params {
	return Params{
		C01: r3.Dot(rays[0], rays[1]),
		C02: r3.Dot(rays[0], rays[2]),
		C12: r3.Dot(rays[1], rays[2]),
		D01: d.D01,
		D02: d.D02,
		D12: d.D12,
	}
}

func (p Params) values() [3]float64 {
	return [3]float64{p.D01, p.D02, p.D12}
}

func (p Params) cosines() [3]float64 {
	return [3]float64{p.C01, p.C02, p.C12}
}

// Residuals evaluates the law-of-cosines system at the ray scalars s:
//
//	s0^2 - 2 c01 s0 s1 + s1^2 - d01^2
//	s0^2 - 2 c02 s0 s2 + s2^2 - d02^2
//	s1^2 - 2 c12 s1 s2 + s2^2 - d12^2
func (p Params) Residuals(s [3]float64) [3]float64 {
	return [3]float64{
		s[0]*s[0] - 2*p.C01*s[0]*s[1] + s[1]*s[1] - p.D01*p.D01,
		s[0]*s[0] - 2*p.C02*s[0]*s[2] + s[2]*s[2] - p.D02*p.D02,
		s[1]*s[1] - 2*p.C12*s[1]*s[2] + s[2]*s[2] - p.D12*p.D12,
	}
}

// Jacobian returns dF_i/ds_j in row-major order.
func (p Params) Jacobian(s [3]float64) []float64 {
	return []float64{
		2*s[0] - 2*p.C01*s[1], 2*s[1] - 2*p.C01*s[0], 0,
		2*s[0] - 2*p.C02*s[2], 0, 2*s[2] - 2*p.C02*s[0],
		0, 2*s[1] - 2*p.C12*s[2], 2*s[2] - 2*p.C12*s[1],
	}
}

// residualNorm is the Euclidean norm of Residuals(s).
func (p Params) residualNorm(s [3]float64) float64 {
	f := p.Residuals(s)
	return math.Sqrt(f[0]*f[0] + f[1]*f[1] + f[2]*f[2])
}
