package oscillator_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/psitrajectory/internal/core/oscillator"
)

func ringCoupling(n int, strength float64) [][]float64 {
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		k[i][j] = strength
		k[j][i] = strength
	}
	return k
}

func TestSetCouplingValidatesDimensions(t *testing.T) {
	net := oscillator.NewNetwork(3)
	err := net.SetCoupling(ringCoupling(4, 1.0))
	require.Error(t, err)
}

func TestStepRejectsStateCouplingMismatch(t *testing.T) {
	net := oscillator.NewNetwork(3)
	require.NoError(t, net.SetCoupling(ringCoupling(3, 1.0)))
	state := oscillator.NewState(4)
	err := net.Step(state, 1)
	require.Error(t, err)
}

func TestPhaseIntegrationConverges(t *testing.T) {
	n := 8
	net := oscillator.NewNetwork(n)
	require.NoError(t, net.SetCoupling(ringCoupling(n, 2.0)))

	state := oscillator.NewState(n)
	for i := range state.Theta {
		state.Theta[i] = float64(i) * 0.1
	}

	for i := 0; i < 2000; i++ {
		require.NoError(t, net.Step(state, 1))
	}

	r := oscillator.OrderParameter(state.Theta)
	assert.Greater(t, r, 0.5, "ring-coupled phases should partially synchronize")
}

func TestCoherenceRangeInvariant(t *testing.T) {
	n := 5
	net := oscillator.NewNetwork(n)
	require.NoError(t, net.SetCoupling(ringCoupling(n, 1.0)))
	state := oscillator.NewState(n)
	for i := range state.Theta {
		state.Theta[i] = float64(i)
	}

	for i := 0; i < 200; i++ {
		require.NoError(t, net.Step(state, 2))
		assert.GreaterOrEqual(t, state.NEffective, 0.0)
		assert.LessOrEqual(t, state.NEffective, float64(n)+1e-9)
		for _, sig := range state.Sigma {
			assert.InDelta(t, 1.0, sig.Norm(), 1e-5)
		}
	}
}

func TestSpinNormalizeZeroFallback(t *testing.T) {
	var s oscillator.Spin
	got := s.Normalize()
	assert.Equal(t, oscillator.ZAxis(), got)
}

func TestSpinRotateAroundAxisPreservesNorm(t *testing.T) {
	s := oscillator.Spin{1, 0, 0}
	axis := oscillator.Spin{0, 0, 1}
	rotated := s.RotateAroundAxis(axis, math.Pi/2)
	assert.InDelta(t, 1.0, rotated.Norm(), 1e-9)
	assert.InDelta(t, 0.0, rotated[0], 1e-9)
	assert.InDelta(t, 1.0, rotated[1], 1e-9)
}

func TestAngleDifferenceWraps(t *testing.T) {
	d := oscillator.AngleDifference(0.1, 2*math.Pi-0.1)
	assert.InDelta(t, 0.2, d, 1e-9)
}

func TestOrderParameterBounds(t *testing.T) {
	theta := []float64{0, 0, 0, 0}
	assert.InDelta(t, 1.0, oscillator.OrderParameter(theta), 1e-9)

	theta = []float64{0, math.Pi, 0, math.Pi}
	assert.InDelta(t, 0.0, oscillator.OrderParameter(theta), 1e-9)
}
