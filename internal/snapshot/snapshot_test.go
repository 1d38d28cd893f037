package snapshot_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/psitrajectory/internal/core/oscillator"
	"github.com/fenilsonani/psitrajectory/internal/snapshot"
)

func TestVersionIsTwoDotZero(t *testing.T) {
	major, minor := snapshot.Version()
	assert.Equal(t, uint8(2), major)
	assert.Equal(t, uint8(0), minor)
}

func buildSnapshot() *snapshot.StateSnapshot {
	lambda := 0.05
	return &snapshot.StateSnapshot{
		Theta:   []float64{0, math.Pi / 2, math.Pi},
		PTheta:  []float64{0.1, 0.2, 0.3},
		Sigma:   []oscillator.Spin{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		PSigma:  []oscillator.Spin{{0.01, 0, 0}, {0, 0.01, 0}, {0, 0, 0.01}},
		DtPhase: 0.01,
		DtSpin:  0.00125,
		Lambda:  &lambda,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := buildSnapshot()
	buf, err := s.ToBytes()
	require.NoError(t, err)

	decoded, err := snapshot.FromBytes(buf)
	require.NoError(t, err)

	assert.Equal(t, 3, decoded.NOscillators())
	assert.InDelta(t, 0.01, decoded.DtPhase, 1e-6)
	assert.InDelta(t, 0.00125, decoded.DtSpin, 1e-6)
	require.NotNil(t, decoded.Lambda)
	assert.InDelta(t, 0.05, *decoded.Lambda, 1e-6)

	for i := range s.Theta {
		assert.InDelta(t, s.Theta[i], decoded.Theta[i], 1e-6)
		assert.InDelta(t, s.PTheta[i], decoded.PTheta[i], 1e-6)
		for c := 0; c < 3; c++ {
			assert.InDelta(t, s.Sigma[i][c], decoded.Sigma[i][c], 1e-6)
			assert.InDelta(t, s.PSigma[i][c], decoded.PSigma[i][c], 1e-6)
		}
	}
}

func TestSnapshotWithoutLambda(t *testing.T) {
	s := buildSnapshot()
	s.Lambda = nil
	buf, err := s.ToBytes()
	require.NoError(t, err)

	decoded, err := snapshot.FromBytes(buf)
	require.NoError(t, err)
	assert.Nil(t, decoded.Lambda)
}

func TestSnapshotFileRoundTripUncompressed(t *testing.T) {
	s := buildSnapshot()
	path := filepath.Join(t.TempDir(), "state.alsn")
	require.NoError(t, s.Save(path, false))

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.NOscillators(), loaded.NOscillators())
	assert.InDelta(t, s.Theta[1], loaded.Theta[1], 1e-6)
}

func TestSnapshotFileRoundTripCompressed(t *testing.T) {
	s := buildSnapshot()
	path := filepath.Join(t.TempDir(), "state.alsnz")
	require.NoError(t, s.Save(path, true))

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.NOscillators(), loaded.NOscillators())
	for i := range s.Theta {
		assert.InDelta(t, s.Theta[i], loaded.Theta[i], 1e-6)
	}
}

func TestFromBytesRejectsBadIdentifier(t *testing.T) {
	_, err := snapshot.FromBytes(make([]byte, 40))
	assert.Error(t, err)
}

func TestToBytesRejectsMismatchedArrayLengths(t *testing.T) {
	s := buildSnapshot()
	s.PTheta = s.PTheta[:1]
	_, err := s.ToBytes()
	assert.Error(t, err)
}
