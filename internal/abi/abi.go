// Package abi implements the process-wide C ABI surface over the TRS-ODE
// controller: a singleton simulation guarded by explicit init/shutdown,
// caller-owned buffers only, and a fixed integer error-code enumeration
// matching the reference FFI layer exactly so bindings generated against
// one also work against the other.
package abi

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/fenilsonani/psitrajectory/internal/core/trsode"
	"github.com/fenilsonani/psitrajectory/internal/psierr"
	"github.com/fenilsonani/psitrajectory/internal/snapshot"
)

// ErrorCode mirrors the reference FFI's AlanError enum numerically, so
// existing host-language bindings generated against that layer need no
// changes to switch to this one.
type ErrorCode int32

const (
	NoError                  ErrorCode = 0
	InvalidParameter         ErrorCode = 1
	NumericalInstability     ErrorCode = 2
	DimensionMismatch        ErrorCode = 3
	AllocationFailure        ErrorCode = 4
	IoError                  ErrorCode = 5
	InvalidSnapshot          ErrorCode = 6
	EndianMismatch           ErrorCode = 7
	SimulationActive         ErrorCode = 8
	SimulationNotInitialized ErrorCode = 9
	UnknownError             ErrorCode = 999
)

// Stats is the packed, C-compatible layout mirrored by AlanTrsStats: six
// field order matters for callers reading this struct by offset across
// the boundary.
type Stats struct {
	TRSLoss          float64
	LastDt           float64
	Steps            uint64
	TotalTime        float64
	MaxPositionError float64
	MaxMomentumError float64
}

const (
	maxOscillators = 1_000_000
	defaultDt      = 0.01
	defaultLambda  = 0.1
)

type simulation struct {
	state          []float64
	time           float64
	controller     *trsode.Controller
	numOscillators int
}

var (
	mu  sync.Mutex
	sim *simulation
)

// harmonicEnsemble builds the N-independent-harmonic-oscillator dynamics
// function used by the reference FFI's alan_init: state holds N phase
// values followed by N momenta (not interleaved).
func harmonicEnsemble(n int) trsode.DynamicsFunc {
	return func(t float64, state, deriv []float64) {
		for i := 0; i < n; i++ {
			deriv[i] = state[n+i]
			deriv[n+i] = -state[i]
		}
	}
}

func bigEndianHost() bool {
	return binary.NativeEndian.Uint16([]byte{0x01, 0x00}) != 1
}

func kindToErrorCode(err error) ErrorCode {
	switch {
	case psierr.Is(err, psierr.InvalidParameter):
		return InvalidParameter
	case psierr.Is(err, psierr.DimensionMismatch):
		return DimensionMismatch
	case psierr.Is(err, psierr.NumericalInstability):
		return NumericalInstability
	case psierr.Is(err, psierr.InvalidFormat):
		return InvalidSnapshot
	case psierr.Is(err, psierr.UnsupportedVersion):
		return InvalidSnapshot
	case psierr.Is(err, psierr.EndianMismatch):
		return EndianMismatch
	case psierr.Is(err, psierr.Io):
		return IoError
	case psierr.Is(err, psierr.NotInitialized):
		return SimulationNotInitialized
	case psierr.Is(err, psierr.AlreadyActive):
		return SimulationActive
	default:
		return UnknownError
	}
}

// Init creates the singleton simulation with numOscillators independent
// harmonic oscillators. It is an error to call Init while a simulation is
// already active; Shutdown must be called first.
func Init(numOscillators uint32) ErrorCode {
	if bigEndianHost() {
		return EndianMismatch
	}

	mu.Lock()
	defer mu.Unlock()

	if sim != nil {
		return SimulationActive
	}
	if numOscillators == 0 || numOscillators > maxOscillators {
		return InvalidParameter
	}

	n := int(numOscillators)
	controller, err := trsode.NewController(defaultDt, defaultLambda, trsode.VelocityVerlet, harmonicEnsemble(n))
	if err != nil {
		return kindToErrorCode(err)
	}

	sim = &simulation{
		state:          make([]float64, 2*n),
		controller:     controller,
		numOscillators: n,
	}
	return NoError
}

// InitSnapshot creates the singleton simulation from a serialized
// StateSnapshot buffer, restoring phases and phase momenta directly
// (spin state is not part of the TRS-ODE ABI surface). Unlike the
// reference FFI's stub, this fully decodes the snapshot rather than
// discarding it in favor of a default-sized simulation.
func InitSnapshot(buf []byte) ErrorCode {
	if bigEndianHost() {
		return EndianMismatch
	}

	mu.Lock()
	defer mu.Unlock()

	if sim != nil {
		return SimulationActive
	}
	if len(buf) == 0 {
		return InvalidParameter
	}

	snap, err := snapshot.FromBytes(buf)
	if err != nil {
		return kindToErrorCode(err)
	}

	n := snap.NOscillators()
	if n == 0 || n > maxOscillators {
		return InvalidParameter
	}

	dt := snap.DtPhase
	if dt <= 0 || dt >= 1 || math.IsNaN(dt) {
		dt = defaultDt
	}
	lambda := defaultLambda
	if snap.Lambda != nil {
		lambda = *snap.Lambda
	}

	controller, cErr := trsode.NewController(dt, lambda, trsode.VelocityVerlet, harmonicEnsemble(n))
	if cErr != nil {
		return kindToErrorCode(cErr)
	}

	state := make([]float64, 2*n)
	copy(state[0:n], snap.Theta)
	copy(state[n:2*n], snap.PTheta)

	sim = &simulation{
		state:          state,
		controller:     controller,
		numOscillators: n,
	}
	return NoError
}

// StateLen returns the total state-vector size (2*numOscillators), or 0
// if no simulation is active.
func StateLen() uint32 {
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return 0
	}
	return uint32(len(sim.state))
}

// NumOscillators returns the active simulation's oscillator count, or 0
// if none is active.
func NumOscillators() uint32 {
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return 0
	}
	return uint32(sim.numOscillators)
}

// GetPhase copies the current phase angles into out, which must have
// exactly NumOscillators() elements.
func GetPhase(out []float64) ErrorCode {
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return SimulationNotInitialized
	}
	if len(out) != sim.numOscillators {
		return DimensionMismatch
	}
	copy(out, sim.state[0:sim.numOscillators])
	return NoError
}

// SetState overwrites the full state vector (phases then momenta). state
// must have exactly StateLen() elements.
func SetState(state []float64) ErrorCode {
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return SimulationNotInitialized
	}
	if len(state) != len(sim.state) {
		return DimensionMismatch
	}
	copy(sim.state, state)
	return NoError
}

// Step performs a single integration step.
func Step() ErrorCode {
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return SimulationNotInitialized
	}
	newTime, err := sim.controller.Step(sim.time, sim.state)
	if err != nil {
		return kindToErrorCode(err)
	}
	sim.time = newTime
	return NoError
}

// Integrate performs steps integration steps.
func Integrate(steps uint32) ErrorCode {
	if steps == 0 {
		return InvalidParameter
	}
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return SimulationNotInitialized
	}
	newTime, err := sim.controller.Integrate(sim.time, sim.state, uint64(steps))
	if err != nil {
		return kindToErrorCode(err)
	}
	sim.time = newTime
	return NoError
}

// GetStats fills out with the controller's current statistics.
func GetStats(out *Stats) ErrorCode {
	if out == nil {
		return InvalidParameter
	}
	mu.Lock()
	defer mu.Unlock()
	if sim == nil {
		return SimulationNotInitialized
	}
	s := sim.controller.Stats()
	*out = Stats{
		TRSLoss:          s.TRSLoss,
		LastDt:           s.LastDt,
		Steps:            s.Steps,
		TotalTime:        s.TotalTime,
		MaxPositionError: s.MaxPositionError,
		MaxMomentumError: s.MaxMomentumError,
	}
	return NoError
}

// Shutdown tears down the singleton simulation. It is idempotent.
func Shutdown() ErrorCode {
	mu.Lock()
	defer mu.Unlock()
	sim = nil
	return NoError
}
