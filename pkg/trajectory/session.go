// Package trajectory is the high-level entry point composing the
// TRS-ODE controller, oscillator network, and ΨARC archive layers into a
// single recording session, in the spirit of a repository object wrapping
// a version-control system's lower layers.
package trajectory

import (
	"fmt"
	"path/filepath"

	"github.com/fenilsonani/psitrajectory/internal/archive"
	"github.com/fenilsonani/psitrajectory/internal/core/oscillator"
	"github.com/fenilsonani/psitrajectory/internal/core/trsode"
	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// Config configures a new recording Session.
type Config struct {
	OscillatorCount   int
	Gamma             float64
	Epsilon           float64
	EtaDamp           float64
	DtPhase           float64
	DtSpin            float64
	EmotionDimensions int
	ArchiveDir        string
	ArchiveBaseName   string
	WriterConfig      archive.WriterConfig
}

// DefaultConfig returns a Config with the network and archive defaults
// used throughout the reference implementation.
func DefaultConfig(archiveDir, baseName string) Config {
	writerCfg := archive.DefaultWriterConfig()
	return Config{
		OscillatorCount:   writerCfg.OscillatorCount,
		Gamma:             0.1,
		Epsilon:           0.05,
		EtaDamp:           1e-4,
		DtPhase:           0.01,
		DtSpin:            0.00125,
		EmotionDimensions: writerCfg.EmotionDimensions,
		ArchiveDir:        archiveDir,
		ArchiveBaseName:   baseName,
		WriterConfig:      writerCfg,
	}
}

// Session owns one oscillator network, its governing parameters, and the
// archive writer recording its trajectory.
type Session struct {
	cfg     Config
	network *oscillator.Network
	state   *oscillator.State
	writer  *archive.Writer

	emotions []float64
	nSpin    int
}

// New constructs a Session with a zero-initialized oscillator state (all
// spins default to +z) and opens its archive writer, but does not start
// recording -- call Start to write the archive header and begin capture.
func New(cfg Config, nSpinStepsPerPhaseStep int) (*Session, error) {
	if cfg.OscillatorCount <= 0 {
		return nil, psierr.New(psierr.InvalidParameter, "oscillator count must be positive")
	}
	if cfg.EmotionDimensions < 0 {
		return nil, psierr.New(psierr.InvalidParameter, "emotion dimensions must be non-negative")
	}

	net := oscillator.NewNetwork(cfg.OscillatorCount)
	net.Gamma = cfg.Gamma
	net.Epsilon = cfg.Epsilon
	net.EtaDamp = cfg.EtaDamp
	net.DtPhase = cfg.DtPhase
	net.DtSpin = cfg.DtSpin

	if err := net.SetCoupling(zeroCoupling(cfg.OscillatorCount)); err != nil {
		return nil, fmt.Errorf("initialize session coupling: %w", err)
	}

	state := oscillator.NewState(cfg.OscillatorCount)

	writerCfg := cfg.WriterConfig
	writerCfg.OscillatorCount = cfg.OscillatorCount
	writerCfg.EmotionDimensions = cfg.EmotionDimensions

	w, err := archive.NewWriter(cfg.ArchiveDir, cfg.ArchiveBaseName, writerCfg)
	if err != nil {
		return nil, fmt.Errorf("open session archive writer: %w", err)
	}

	return &Session{
		cfg:      cfg,
		network:  net,
		state:    state,
		writer:   w,
		emotions: make([]float64, cfg.EmotionDimensions),
		nSpin:    nSpinStepsPerPhaseStep,
	}, nil
}

func zeroCoupling(n int) [][]float64 {
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
	}
	return k
}

// ArchivePath is the final (post-finalize) archive file path.
func (s *Session) ArchivePath() string {
	return filepath.Join(s.cfg.ArchiveDir, s.cfg.ArchiveBaseName+".psiarc")
}

// SetCoupling replaces the network's coupling matrix.
func (s *Session) SetCoupling(k [][]float64) error {
	return s.network.SetCoupling(k)
}

// Network exposes the underlying oscillator network for direct tuning.
func (s *Session) Network() *oscillator.Network { return s.network }

// State exposes the live oscillator state.
func (s *Session) State() *oscillator.State { return s.state }

// Start writes the archive header and begins accepting captured frames.
func (s *Session) Start(startTimestampMs uint64) error {
	return s.writer.Start(startTimestampMs)
}

// Step advances the oscillator network by one phase step (and nSpin spin
// sub-steps) and captures the resulting state into the archive at
// timestampMs. It returns whether the frame was accepted (false means it
// was dropped under backpressure).
func (s *Session) Step(timestampMs uint64) (bool, error) {
	if err := s.network.Step(s.state, s.nSpin); err != nil {
		return false, fmt.Errorf("advance oscillator network: %w", err)
	}

	amplitudes := spinMagnitudes(s.state.Sigma)
	accepted := s.writer.CaptureFrame(timestampMs, s.state.Theta, amplitudes, s.emotions)
	return accepted, nil
}

// SetEmotions replaces the emotion-channel vector captured alongside
// future frames.
func (s *Session) SetEmotions(emotions []float64) error {
	if len(emotions) != len(s.emotions) {
		return psierr.New(psierr.DimensionMismatch, "emotion vector length mismatch")
	}
	copy(s.emotions, emotions)
	return nil
}

// CaptureMacroEvent records a macro-band (always-keyframe) snapshot of the
// current state outside the regular phase-step cadence.
func (s *Session) CaptureMacroEvent(timestampMs uint64) bool {
	amplitudes := spinMagnitudes(s.state.Sigma)
	return s.writer.CaptureMacroEvent(timestampMs, s.state.Theta, amplitudes, s.emotions)
}

func spinMagnitudes(sigma []oscillator.Spin) []float64 {
	out := make([]float64, len(sigma))
	for i, sp := range sigma {
		out[i] = sp.Norm()
	}
	return out
}

// Stop finalizes the archive: it flushes, writes the end-of-stream
// terminator, and atomically renames the temp file into place.
func (s *Session) Stop() error {
	return s.writer.StopRecording()
}

// FramesWritten returns the number of frames successfully persisted.
func (s *Session) FramesWritten() uint64 { return s.writer.FramesWritten() }

// FramesDropped returns the number of frames dropped under backpressure.
func (s *Session) FramesDropped() uint64 { return s.writer.FramesDropped() }

// OpenReplay opens the finalized archive for random-access playback. It
// must be called only after Stop has completed successfully.
func (s *Session) OpenReplay() (*archive.Reader, error) {
	return archive.Open(s.ArchivePath(), archive.ReaderConfig{
		OscillatorCount:   s.cfg.OscillatorCount,
		EmotionDimensions: s.cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    s.cfg.WriterConfig.MesoDecimation,
	})
}

// TRSReversibilityCheck runs a TRS-ODE reversibility check over n steps
// starting from t0, s0 using the given controller -- a diagnostic utility
// independent of the live session state, for validating an integrator
// configuration before recording with it.
func TRSReversibilityCheck(c *trsode.Controller, t0 float64, s0 []float64, n uint64) (float64, error) {
	return c.CheckReversibility(t0, s0, n)
}
