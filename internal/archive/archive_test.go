package archive_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/psitrajectory/internal/archive"
)

func syntheticFrame(d, e int, i int) (phases, amplitudes, emotions []float64) {
	phases = make([]float64, d)
	amplitudes = make([]float64, d)
	emotions = make([]float64, e)
	for k := 0; k < d; k++ {
		phases[k] = math.Mod(float64(i)*0.01+float64(k)*0.3, 2*math.Pi) - math.Pi
		amplitudes[k] = 0.5 + 0.4*math.Sin(float64(i)*0.02+float64(k))
	}
	for k := 0; k < e; k++ {
		emotions[k] = 0.5 + 0.1*math.Cos(float64(i)*0.03+float64(k))
	}
	return
}

func writeSyntheticArchive(t *testing.T, dir string, nFrames int, cfg archive.WriterConfig) string {
	t.Helper()
	w, err := archive.NewWriter(dir, "test", cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(1_000_000))

	for i := 0; i < nFrames; i++ {
		phases, amps, emotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, i)
		for !w.CaptureFrame(1_000_000+uint64(i)*16, phases, amps, emotions) {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, w.StopRecording())

	return filepath.Join(dir, "test.psiarc")
}

func TestWriterFinalizesAtomicallyAndRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	path := writeSyntheticArchive(t, dir, 50, cfg)

	_, err := os.Stat(path)
	assert.NoError(t, err, "final archive file must exist")
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away, not left behind")
}

func TestReaderRoundTripsKeyframeAndDeltaFrames(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 10
	path := writeSyntheticArchive(t, dir, 35, cfg)

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 35, r.FrameCount())

	for i := 0; i < 35; i++ {
		f, err := r.ReadFrame(i)
		require.NoError(t, err)

		wantPhases, wantAmps, wantEmotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, i)
		for k := range wantPhases {
			assert.InDelta(t, wantPhases[k], f.Phases[k], 1e-3, "frame %d phase %d", i, k)
		}
		for k := range wantAmps {
			assert.InDelta(t, wantAmps[k], f.Amplitudes[k], 1e-3, "frame %d amplitude %d", i, k)
		}
		for k := range wantEmotions {
			assert.InDelta(t, wantEmotions[k], f.Emotions[k], 1e-3, "frame %d emotion %d", i, k)
		}

		wantKeyframe := i%10 == 0
		assert.Equal(t, wantKeyframe, f.IsKeyframe, "frame %d keyframe flag", i)
	}
}

// TestReaderSeekToKeyframeBoundary is scenario E5: 1000 frames at keyframe
// interval 300; requesting frame 750 replays forward from the keyframe at
// 600, not from 300 or 0.
func TestReaderSeekToKeyframeBoundary(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 300
	path := writeSyntheticArchive(t, dir, 1000, cfg)

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	f, err := r.ReadFrame(750)
	require.NoError(t, err)
	assert.False(t, f.IsKeyframe)
	assert.Equal(t, uint64(750), f.FrameIndex)

	// The keyframe at 600 seeded this replay; it must already be cached
	// from that single call, without a separate ReadFrame(600).
	assert.Contains(t, r.CachedKeyframeOrdinals(), 600)

	wantPhases, _, _ := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, 750)
	for k := range wantPhases {
		assert.InDelta(t, wantPhases[k], f.Phases[k], 1e-3)
	}
}

// TestReaderReadsMesoAndMacroBands covers the meso and macro read paths:
// both bands are written alongside the micro stream (writer.go:174-189) and
// must be recoverable through their own accessors, not just indexed as dead
// write-only chunks.
func TestReaderReadsMesoAndMacroBands(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 10
	cfg.MesoDecimation = 4

	w, err := archive.NewWriter(dir, "bands", cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(1_000_000))

	for i := 0; i < 40; i++ {
		phases, amps, emotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, i)
		for !w.CaptureFrame(1_000_000+uint64(i)*16, phases, amps, emotions) {
			time.Sleep(time.Millisecond)
		}
	}

	macroPhases, macroAmps, macroEmotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, 999)
	require.True(t, w.CaptureMacroEvent(5_000_000, macroPhases, macroAmps, macroEmotions))
	require.NoError(t, w.StopRecording())

	r, err := archive.Open(filepath.Join(dir, "bands.psiarc"), archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 10, r.MesoFrameCount()) // one meso frame per 4 micro frames, 40/4
	require.Equal(t, 1, r.MacroEventCount())

	mf, err := r.ReadMesoFrame(7)
	require.NoError(t, err)
	wantPhases, wantAmps, wantEmotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, 31)
	for k := range wantPhases {
		assert.InDelta(t, wantPhases[k], mf.Phases[k], 1e-3)
	}
	for k := range wantAmps {
		assert.InDelta(t, wantAmps[k], mf.Amplitudes[k], 1e-3)
	}
	for k := range wantEmotions {
		assert.InDelta(t, wantEmotions[k], mf.Emotions[k], 1e-3)
	}

	me, err := r.ReadMacroEvent(0)
	require.NoError(t, err)
	assert.True(t, me.IsKeyframe)
	assert.Equal(t, uint64(5_000_000), me.TimestampMs)
	for k := range macroPhases {
		assert.InDelta(t, macroPhases[k], me.Phases[k], 1e-3)
	}

	require.NoError(t, r.VerifyAll(context.Background()))
}

// TestReaderMesoFrameViaDeltaReplay covers a meso read served by delta
// replay from an earlier meso keyframe: the read succeeds, reports a
// non-keyframe, and the whole archive still verifies.
func TestReaderMesoFrameViaDeltaReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 20
	cfg.MesoDecimation = 2
	path := writeSyntheticArchive(t, dir, 100, cfg)

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	f, err := r.ReadMesoFrame(9)
	require.NoError(t, err)
	assert.False(t, f.IsKeyframe)

	require.NoError(t, r.VerifyAll(context.Background()))
}

func TestReaderDetectsCorruptedChunkCRC(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 10
	path := writeSyntheticArchive(t, dir, 5, cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the first chunk's payload, well past the header.
	data[archive.HeaderSize+5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err) // scanning alone does not decode payloads
	defer r.Close()

	_, err = r.ReadFrame(0)
	assert.Error(t, err)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.psiarc")
	require.NoError(t, os.WriteFile(path, make([]byte, archive.HeaderSize), 0o644))

	_, err := archive.Open(path, archive.DefaultReaderConfig())
	assert.Error(t, err)
}

// TestWriterDropsFramesUnderBackpressure is scenario E6: a queue/pool small
// enough to force drops under burst capture still produces a readable
// archive whose persisted frames are contiguous in the archive's own
// positional addressing (see reader.go's DESIGN.md-documented distinction
// between capture-time frame_index and archive-positional frame address).
func TestWriterDropsFramesUnderBackpressure(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.QueueCapacity = 2

	w, err := archive.NewWriter(dir, "burst", cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(0))

	for i := 0; i < 500; i++ {
		phases, amps, emotions := syntheticFrame(cfg.OscillatorCount, cfg.EmotionDimensions, i)
		w.CaptureFrame(uint64(i)*16, phases, amps, emotions) // no retry: bursts past capacity
	}
	require.NoError(t, w.StopRecording())

	assert.Greater(t, w.FramesDropped(), uint64(0), "small queue under burst must drop some frames")
	assert.Greater(t, w.FramesWritten(), uint64(0))

	r, err := archive.Open(filepath.Join(dir, "burst.psiarc"), archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int(w.FramesWritten()), r.FrameCount()+r.MesoFrameCount()+r.MacroEventCount())
}

func TestPlayerPlaysFramesInOrderAndStops(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	cfg.KeyframeInterval = 5
	path := writeSyntheticArchive(t, dir, 8, cfg)

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	p := archive.NewPlayer(r)
	require.NoError(t, p.SetRate(20.0)) // fast-forward so the test stays quick

	var mu sync.Mutex
	var delivered []uint64
	require.NoError(t, p.Play(func(f archive.Frame) {
		mu.Lock()
		delivered = append(delivered, f.FrameIndex)
		mu.Unlock()
	}))

	deadline := time.Now().Add(2 * time.Second)
	for p.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 8)
	for i, idx := range delivered {
		assert.Equal(t, uint64(i), idx)
	}
}

func TestPlayerSeekAndRateValidation(t *testing.T) {
	dir := t.TempDir()
	cfg := archive.DefaultWriterConfig()
	path := writeSyntheticArchive(t, dir, 10, cfg)

	r, err := archive.Open(path, archive.ReaderConfig{
		OscillatorCount:   cfg.OscillatorCount,
		EmotionDimensions: cfg.EmotionDimensions,
		MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
		MesoDecimation:    cfg.MesoDecimation,
	})
	require.NoError(t, err)
	defer r.Close()

	p := archive.NewPlayer(r)
	assert.NoError(t, p.Seek(5))
	assert.Equal(t, 5, p.Position())
	assert.Error(t, p.Seek(100))
	assert.Error(t, p.SetRate(0))
	assert.Error(t, p.SetRate(-1))
}
