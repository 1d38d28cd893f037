package abi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/psitrajectory/internal/abi"
	"github.com/fenilsonani/psitrajectory/internal/core/oscillator"
	"github.com/fenilsonani/psitrajectory/internal/snapshot"
)

func resetSim(t *testing.T) {
	t.Helper()
	abi.Shutdown()
	t.Cleanup(func() { abi.Shutdown() })
}

func TestInitRejectsZeroAndOversizedOscillatorCounts(t *testing.T) {
	resetSim(t)
	assert.Equal(t, abi.InvalidParameter, abi.Init(0))
	assert.Equal(t, abi.InvalidParameter, abi.Init(2_000_000))
}

func TestInitThenInitReturnsSimulationActive(t *testing.T) {
	resetSim(t)
	require.Equal(t, abi.NoError, abi.Init(4))
	assert.Equal(t, abi.SimulationActive, abi.Init(4))
}

func TestOperationsBeforeInitReturnSimulationNotInitialized(t *testing.T) {
	resetSim(t)
	assert.Equal(t, abi.SimulationNotInitialized, abi.Step())
	assert.Equal(t, abi.SimulationNotInitialized, abi.Integrate(1))
	assert.Equal(t, abi.SimulationNotInitialized, abi.GetPhase(make([]float64, 1)))
	assert.Equal(t, abi.SimulationNotInitialized, abi.SetState(make([]float64, 2)))

	var stats abi.Stats
	assert.Equal(t, abi.SimulationNotInitialized, abi.GetStats(&stats))
}

func TestInitStepAndGetPhaseRoundTrip(t *testing.T) {
	resetSim(t)
	require.Equal(t, abi.NoError, abi.Init(3))
	require.Equal(t, uint32(3), abi.NumOscillators())
	require.Equal(t, uint32(6), abi.StateLen())

	state := make([]float64, 6)
	state[0], state[1], state[2] = 1.0, 0.5, -0.25
	require.Equal(t, abi.NoError, abi.SetState(state))

	require.Equal(t, abi.NoError, abi.Step())

	phase := make([]float64, 3)
	require.Equal(t, abi.NoError, abi.GetPhase(phase))
	assert.NotEqual(t, []float64{1.0, 0.5, -0.25}, phase)
}

func TestGetPhaseRejectsWrongBufferSize(t *testing.T) {
	resetSim(t)
	require.Equal(t, abi.NoError, abi.Init(3))
	assert.Equal(t, abi.DimensionMismatch, abi.GetPhase(make([]float64, 2)))
}

func TestIntegrateRejectsZeroSteps(t *testing.T) {
	resetSim(t)
	require.Equal(t, abi.NoError, abi.Init(2))
	assert.Equal(t, abi.InvalidParameter, abi.Integrate(0))
}

func TestGetStatsAfterIntegration(t *testing.T) {
	resetSim(t)
	require.Equal(t, abi.NoError, abi.Init(2))
	require.Equal(t, abi.NoError, abi.Integrate(50))

	var stats abi.Stats
	require.Equal(t, abi.NoError, abi.GetStats(&stats))
	assert.Equal(t, uint64(50), stats.Steps)
}

func TestInitSnapshotRestoresPhases(t *testing.T) {
	resetSim(t)
	snap := &snapshot.StateSnapshot{
		Theta:   []float64{0.1, 0.2},
		PTheta:  []float64{0.3, 0.4},
		Sigma:   make([]oscillator.Spin, 2),
		PSigma:  make([]oscillator.Spin, 2),
		DtPhase: 0.02,
		DtSpin:  0.001,
	}
	buf, err := snap.ToBytes()
	require.NoError(t, err)

	require.Equal(t, abi.NoError, abi.InitSnapshot(buf))
	require.Equal(t, uint32(2), abi.NumOscillators())

	phase := make([]float64, 2)
	require.Equal(t, abi.NoError, abi.GetPhase(phase))
	assert.InDelta(t, 0.1, phase[0], 1e-6)
	assert.InDelta(t, 0.2, phase[1], 1e-6)
}

func TestInitSnapshotRejectsEmptyBuffer(t *testing.T) {
	resetSim(t)
	assert.Equal(t, abi.InvalidParameter, abi.InitSnapshot(nil))
}
