// Package systems provides example Hamiltonian dynamics functions used to
// exercise the TRS-ODE integrator: the harmonic oscillator and the Duffing
// oscillator family (conservative, near-chaotic, and general parametric
// forms), matching the reference systems used to validate reversibility.
package systems

import "math"

// Harmonic returns f(t, [q,p]) = [p, -q], the unit harmonic oscillator
// used in the round-trip identity scenario: starting at (q,p)=(1,0) and
// integrating forward by t=1 gives (cos(1), -sin(1)).
func Harmonic() func(t float64, state, deriv []float64) {
	return func(t float64, state, deriv []float64) {
		q, p := state[0], state[1]
		deriv[0] = p
		deriv[1] = -q
	}
}

// Duffing returns the general driven Duffing dynamics:
//
//	dq/dt = p
//	dp/dt = -delta*p + q - q^3 + gamma*cos(omega*t)
func Duffing(delta, gamma, omega float64) func(t float64, state, deriv []float64) {
	return func(t float64, state, deriv []float64) {
		q, p := state[0], state[1]
		deriv[0] = p
		deriv[1] = -delta*p + q - q*q*q + gamma*math.Cos(omega*t)
	}
}

// ConservativeDuffing is Duffing with delta=gamma=0: a purely conservative
// (undamped, undriven) cubic oscillator used for the energy-drift
// scenario.
func ConservativeDuffing() func(t float64, state, deriv []float64) {
	return Duffing(0, 0, 0)
}

// NearChaoticDuffing uses parameters known to place the Duffing system
// near its chaotic regime (delta=0.15, gamma=0.3, omega=1), used for the
// dissipative round-trip-bound scenario.
func NearChaoticDuffing() func(t float64, state, deriv []float64) {
	return Duffing(0.15, 0.3, 1.0)
}

// DuffingEnergy computes E = 1/2 p^2 + 1/2(-q^2 + 1/2 q^4) for the
// conservative Duffing Hamiltonian, used to check energy drift.
func DuffingEnergy(q, p float64) float64 {
	return 0.5*p*p + 0.5*(-q*q+0.5*q*q*q*q)
}
