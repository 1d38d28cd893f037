package oscillator

import (
	"math"

	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// State holds the full dynamical state of a Banksy phase-spin oscillator
// ensemble: N phases with phase momenta, and N spin unit vectors with spin
// momenta.
type State struct {
	N          int
	Theta      []float64
	PTheta     []float64
	Sigma      []Spin
	PSigma     []Spin
	NEffective float64
}

// NewState allocates a state of n oscillators with all phases and phase
// momenta zeroed and every spin defaulted to ZAxis().
func NewState(n int) *State {
	sigma := make([]Spin, n)
	for i := range sigma {
		sigma[i] = ZAxis()
	}
	return &State{
		N:      n,
		Theta:  make([]float64, n),
		PTheta: make([]float64, n),
		Sigma:  sigma,
		PSigma: make([]Spin, n),
	}
}

// UpdateNEffective recomputes the coherence measure N_eff = r*N from the
// current phase ensemble.
func (s *State) UpdateNEffective() {
	s.NEffective = OrderParameter(s.Theta) * float64(s.N)
}

// Network is a Banksy phase-spin oscillator network: a coupling matrix
// plus the scalar parameters governing phase and spin dynamics.
type Network struct {
	N       int
	K       [][]float64
	Gamma   float64 // phase<-spin lattice coupling strength
	Epsilon float64 // Hebbian spin alignment rate
	EtaDamp float64 // phase-momentum damping coefficient
	DtPhase float64
	DtSpin  float64
}

// NewNetwork constructs a Network of n oscillators with an all-zero
// coupling matrix and the reference default parameters.
func NewNetwork(n int) *Network {
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
	}
	return &Network{
		N:       n,
		K:       k,
		Gamma:   0.1,
		Epsilon: 0.05,
		EtaDamp: 1e-4,
		DtPhase: 0.01,
		DtSpin:  0.00125,
	}
}

// SetCoupling replaces the coupling matrix, validating it is square of
// size N.
func (net *Network) SetCoupling(k [][]float64) error {
	if len(k) != net.N {
		return psierr.New(psierr.DimensionMismatch, "coupling matrix row count mismatch")
	}
	for _, row := range k {
		if len(row) != net.N {
			return psierr.New(psierr.DimensionMismatch, "coupling matrix column count mismatch")
		}
	}
	net.K = k
	return nil
}

// Step performs one phase-Verlet step followed by nSpin spin sub-steps,
// then refreshes the coherence measure.
func (net *Network) Step(state *State, nSpin int) error {
	if state.N != len(net.K) {
		return psierr.New(psierr.DimensionMismatch, "state size doesn't match coupling matrix")
	}

	net.integratePhase(state)
	for i := 0; i < nSpin; i++ {
		net.integrateSpin(state)
	}
	state.UpdateNEffective()
	return nil
}

// Run repeatedly steps the network.
func (net *Network) Run(state *State, steps int, nSpin int) error {
	for i := 0; i < steps; i++ {
		if err := net.Step(state, nSpin); err != nil {
			return err
		}
	}
	return nil
}

func (net *Network) phaseForces(theta []float64) []float64 {
	f := make([]float64, len(theta))
	for i := range theta {
		var sum float64
		for j := range theta {
			if i == j {
				continue
			}
			sum += net.K[i][j] * CouplingTerm(theta[i], theta[j])
		}
		f[i] = sum
	}
	return f
}

// integratePhase performs one velocity-Verlet step on the phase ensemble:
// half-kick, drift with wrap, recompute force, half-kick, then damp.
func (net *Network) integratePhase(state *State) {
	dt := net.DtPhase
	f := net.phaseForces(state.Theta)
	for i := range state.PTheta {
		state.PTheta[i] += (dt / 2) * f[i]
	}
	for i := range state.Theta {
		state.Theta[i] = NormalizePhase(state.Theta[i] + dt*state.PTheta[i])
	}
	f = net.phaseForces(state.Theta)
	for i := range state.PTheta {
		state.PTheta[i] += (dt / 2) * f[i]
		state.PTheta[i] *= 1 - net.EtaDamp
	}
}

// integrateSpin performs one spin sub-step: magnitude-only lattice
// feedback into phase momentum (intentionally non-symplectic, per
// spec.md's Open Questions), then Hebbian spin alignment over the
// coupling-matrix topology.
func (net *Network) integrateSpin(state *State) {
	dt := net.DtSpin
	n := state.N

	// Lattice feedback: deviation of each spin from the mean of all
	// others feeds phase momentum by magnitude only.
	for i := 0; i < n; i++ {
		others := make([]Spin, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				others = append(others, state.Sigma[j])
			}
		}
		mean := MeanSpinDirection(others)
		dev := state.Sigma[i].Sub(mean)
		state.PTheta[i] += net.Gamma * dev.Norm() * dt
	}

	// Hebbian alignment over the same coupling topology used for phase
	// coupling: nonzero K[i][j] defines a connected pair.
	newSigma := make([]Spin, n)
	copy(newSigma, state.Sigma)
	for i := 0; i < n; i++ {
		var delta Spin
		for j := 0; j < n; j++ {
			if i == j || net.K[i][j] == 0 {
				continue
			}
			cosDiff := math.Cos(state.Theta[i] - state.Theta[j])
			if cosDiff > 0.5 {
				delta = delta.Add(state.Sigma[j].Scale(cosDiff * net.Epsilon * dt))
			}
		}
		updated := state.Sigma[i].Add(delta)
		if updated.NormSquared() < 1e-10 {
			// Skip the update rather than falling back to ZAxis(): this
			// is the Hebbian path's asymmetry against Spin.Normalize.
			continue
		}
		newSigma[i] = updated.Normalize()
	}
	state.Sigma = newSigma
}

// ExpectedNEffective estimates the expected coherence from mean coupling
// strength, saturating toward ~0.95*N as coupling grows.
func (net *Network) ExpectedNEffective() float64 {
	n := net.N
	if n == 0 {
		return 0
	}
	var sumK float64
	var count int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				sumK += math.Abs(net.K[i][j])
				count++
			}
		}
	}
	meanK := 0.0
	if count > 0 {
		meanK = sumK / float64(count)
	}
	rEst := (1 - math.Exp(-10*meanK)) * 0.95
	return rEst * float64(n)
}
