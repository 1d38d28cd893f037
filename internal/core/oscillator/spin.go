package oscillator

import "math"

// Spin is a 3-vector used to represent an oscillator's spin state or spin
// momentum. A spin vector's zero value is the zero vector, not a unit
// vector; callers that need a default orientation use ZAxis().
type Spin [3]float64

// ZAxis returns (0, 0, 1), the fallback orientation used whenever a
// normalization or mean-direction computation degenerates.
func ZAxis() Spin { return Spin{0, 0, 1} }

func (s Spin) Add(o Spin) Spin { return Spin{s[0] + o[0], s[1] + o[1], s[2] + o[2]} }
func (s Spin) Sub(o Spin) Spin { return Spin{s[0] - o[0], s[1] - o[1], s[2] - o[2]} }
func (s Spin) Scale(k float64) Spin { return Spin{s[0] * k, s[1] * k, s[2] * k} }

func (s Spin) Dot(o Spin) float64 { return s[0]*o[0] + s[1]*o[1] + s[2]*o[2] }

func (s Spin) Cross(o Spin) Spin {
	return Spin{
		s[1]*o[2] - s[2]*o[1],
		s[2]*o[0] - s[0]*o[2],
		s[0]*o[1] - s[1]*o[0],
	}
}

// NormSquared returns the squared Euclidean norm.
func (s Spin) NormSquared() float64 { return s.Dot(s) }

// Norm returns the Euclidean norm.
func (s Spin) Norm() float64 { return math.Sqrt(s.NormSquared()) }

// Normalize returns s/||s||, or ZAxis() if ||s||^2 < 1e-10.
func (s Spin) Normalize() Spin {
	n2 := s.NormSquared()
	if n2 < 1e-10 {
		return ZAxis()
	}
	return s.Scale(1 / math.Sqrt(n2))
}

// RotateAroundAxis rotates s around unit axis k by angle (Rodrigues'
// rotation formula). axis is assumed to already be a unit vector.
func (s Spin) RotateAroundAxis(axis Spin, angle float64) Spin {
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	term1 := s.Scale(cosA)
	term2 := axis.Cross(s).Scale(sinA)
	term3 := axis.Scale(axis.Dot(s) * (1 - cosA))
	return term1.Add(term2).Add(term3)
}

// AngleWith returns the clamped angle between s and o, both treated as
// directions (not necessarily unit-normalized).
func (s Spin) AngleWith(o Spin) float64 {
	ns, no := s.Norm(), o.Norm()
	if ns < 1e-10 || no < 1e-10 {
		return 0
	}
	cosTheta := s.Dot(o) / (ns * no)
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	return math.Acos(cosTheta)
}

// MeanSpinDirection returns the normalized mean of spins, or ZAxis() if the
// sum degenerates to (near) zero.
func MeanSpinDirection(spins []Spin) Spin {
	var sum Spin
	for _, sp := range spins {
		sum = sum.Add(sp)
	}
	return sum.Normalize()
}

// SpinAlignment returns the mean of each spin's dot product with the mean
// direction of the full set, a scalar order measure for spin coherence.
func SpinAlignment(spins []Spin) float64 {
	if len(spins) == 0 {
		return 0
	}
	mean := MeanSpinDirection(spins)
	var total float64
	for _, sp := range spins {
		total += sp.Dot(mean)
	}
	return total / float64(len(spins))
}
