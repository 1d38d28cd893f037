package archive

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenilsonani/psitrajectory/internal/codec"
	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// WriterConfig configures a Writer. Defaults mirror the reference
// recorder's configuration.
type WriterConfig struct {
	QueueCapacity     int
	FlushInterval     int
	KeyframeInterval  uint64
	MesoDecimation    int
	OscillatorCount   int
	EmotionDimensions int
}

// DefaultWriterConfig returns the reference recorder's default parameters.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueCapacity:     DefaultQueueCapacity,
		FlushInterval:     DefaultFlushInterval,
		KeyframeInterval:  codec.DefaultKeyframeInterval,
		MesoDecimation:    DefaultMesoDecimation,
		OscillatorCount:   DefaultOscillatorCount,
		EmotionDimensions: DefaultEmotionDimensions,
	}
}

type frameBuf struct {
	band        Band
	isKeyframe  bool
	frameIndex  uint64
	timestampMs uint64
	phases      []int16
	amplitudes  []int16
	emotions    []int16
}

// Writer persists a monotonically increasing frame stream to a ΨARC
// archive with crash-safe atomic-rename finalization. The capture-side API
// (CaptureFrame and friends) never blocks: frames are enqueued into a
// bounded channel acting as a lock-free-ring substitute, and dropped with
// a counter bump on overflow. A single background goroutine drains the
// queue, encodes, and writes.
type Writer struct {
	finalPath string
	tmpPath   string
	file      *os.File
	bw        *bufio.Writer

	cfg              WriterConfig
	startTimestampMs uint64

	frameIndexCounter atomic.Uint64
	mesoCounter       uint64
	mesoFrameIndex    uint64
	framesDropped     atomic.Uint64
	framesWritten     atomic.Uint64

	queue chan *frameBuf
	pool  chan *frameBuf

	encMicro codec.DeltaEncoder
	encMeso  codec.DeltaEncoder

	active atomic.Bool
	wg     sync.WaitGroup

	mu      sync.Mutex
	writeErr error
}

// NewWriter opens a temp file `<dir>/<baseName>.psiarc.tmp` and prepares
// queue/pool rings sized per cfg. The archive is not usable until Start is
// called.
func NewWriter(dir, baseName string, cfg WriterConfig) (*Writer, error) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	finalPath := filepath.Join(dir, baseName+".psiarc")
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, psierr.Wrap(psierr.Io, "create temp archive file", err)
	}

	w := &Writer{
		finalPath: finalPath,
		tmpPath:   tmpPath,
		file:      f,
		bw:        bufio.NewWriter(f),
		cfg:       cfg,
		queue:     make(chan *frameBuf, cfg.QueueCapacity),
		pool:      make(chan *frameBuf, cfg.QueueCapacity),
	}

	for i := 0; i < cfg.QueueCapacity; i++ {
		w.pool <- &frameBuf{
			phases:     make([]int16, cfg.OscillatorCount),
			amplitudes: make([]int16, cfg.OscillatorCount),
			emotions:   make([]int16, cfg.EmotionDimensions),
		}
	}

	return w, nil
}

// Start writes the archive header and spawns the writer goroutine.
func (w *Writer) Start(startTimestampMs uint64) error {
	w.startTimestampMs = startTimestampMs

	header := make([]byte, HeaderSize)
	magic := magicBytes()
	copy(header[0:5], magic[:])
	binary.LittleEndian.PutUint16(header[5:7], Version)
	binary.LittleEndian.PutUint64(header[7:15], startTimestampMs)
	crc := crc32.ChecksumIEEE(header[0:15])
	binary.LittleEndian.PutUint32(header[15:19], crc)

	if _, err := w.bw.Write(header); err != nil {
		return psierr.Wrap(psierr.Io, "write archive header", err)
	}

	w.active.Store(true)
	w.wg.Add(1)
	go w.run()
	return nil
}

// FramesDropped returns the number of frames dropped due to a full pool or
// full queue.
func (w *Writer) FramesDropped() uint64 { return w.framesDropped.Load() }

// FramesWritten returns the number of frames successfully written.
func (w *Writer) FramesWritten() uint64 { return w.framesWritten.Load() }

// Err returns the first write error encountered by the writer goroutine,
// if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErr
}

// CaptureFrame enqueues one micro-band frame (and, every MesoDecimation-th
// call, a decimated meso-band copy) from floating-point oscillator state.
// It never blocks: on pool exhaustion or a full queue the frame is dropped
// and framesDropped is incremented.
func (w *Writer) CaptureFrame(timestampMs uint64, phases, amplitudes, emotions []float64) bool {
	if !w.active.Load() {
		w.framesDropped.Add(1)
		return false
	}

	frameIndex := w.frameIndexCounter.Add(1) - 1
	isKeyframe := codec.IsKeyframe(frameIndex, w.cfg.KeyframeInterval)

	if !w.captureBand(BandMicro, frameIndex, timestampMs, isKeyframe, phases, amplitudes, emotions) {
		return false
	}

	w.mesoCounter++
	if w.cfg.MesoDecimation > 0 && w.mesoCounter%uint64(w.cfg.MesoDecimation) == 0 {
		// The meso band keyframe schedule runs over meso's own sequential
		// ordinal, not the micro frame_index: a meso capture's micro
		// frame_index is always congruent to MesoDecimation-1 modulo
		// MesoDecimation, so keying off it would give the meso band no
		// keyframes whenever MesoDecimation and KeyframeInterval share a
		// common factor.
		mesoIsKeyframe := codec.IsKeyframe(w.mesoFrameIndex, w.cfg.KeyframeInterval)
		w.mesoFrameIndex++
		w.captureBand(BandMeso, frameIndex, timestampMs, mesoIsKeyframe, phases, amplitudes, emotions)
	}
	return true
}

// CaptureMacroEvent enqueues a macro-band event. Macro frames are always
// keyframe-coded (raw values, no delta state), per the macro_event_only
// recorder policy.
func (w *Writer) CaptureMacroEvent(timestampMs uint64, phases, amplitudes, emotions []float64) bool {
	if !w.active.Load() {
		w.framesDropped.Add(1)
		return false
	}
	frameIndex := w.frameIndexCounter.Add(1) - 1
	return w.captureBand(BandMacro, frameIndex, timestampMs, true, phases, amplitudes, emotions)
}

func (w *Writer) captureBand(band Band, frameIndex, timestampMs uint64, isKeyframe bool, phases, amplitudes, emotions []float64) bool {
	var buf *frameBuf
	select {
	case buf = <-w.pool:
	default:
		w.framesDropped.Add(1)
		return false
	}

	buf.band = band
	buf.isKeyframe = isKeyframe
	buf.frameIndex = frameIndex
	buf.timestampMs = timestampMs
	quantizeInto(buf.phases, phases, codec.QuantizePhase)
	quantizeInto(buf.amplitudes, amplitudes, codec.QuantizeUnit)
	quantizeInto(buf.emotions, emotions, codec.QuantizeUnit)

	select {
	case w.queue <- buf:
		return true
	default:
		w.pool <- buf
		w.framesDropped.Add(1)
		return false
	}
}

func quantizeInto(dst []int16, src []float64, q func(float64) int16) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] = q(src[i])
	}
}

// run is the writer thread: it runs at a best-effort below-normal OS
// priority (ignored where unsupported), drains the queue in small
// batches, serializes and writes frames, and periodically flushes.
func (w *Writer) run() {
	defer w.wg.Done()
	lowerThreadPriority()

	sinceFlush := 0
	const batchSize = 10

	for {
		drained := w.drainBatch(batchSize)
		if len(drained) == 0 {
			if !w.active.Load() && len(w.queue) == 0 {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}

		for _, buf := range drained {
			if err := w.writeFrame(buf); err != nil {
				w.mu.Lock()
				w.writeErr = err
				w.mu.Unlock()
				w.active.Store(false)
				w.flush()
				w.pool <- buf
				return
			}
			w.framesWritten.Add(1)
			sinceFlush++
			w.pool <- buf
		}

		if sinceFlush >= w.cfg.FlushInterval {
			w.flush()
			sinceFlush = 0
		}
	}

	w.finish()
}

func (w *Writer) drainBatch(max int) []*frameBuf {
	batch := make([]*frameBuf, 0, max)
	for i := 0; i < max; i++ {
		select {
		case buf := <-w.queue:
			batch = append(batch, buf)
		default:
			return batch
		}
	}
	return batch
}

func (w *Writer) writeFrame(buf *frameBuf) error {
	var payload []byte
	switch {
	case buf.band == BandMacro:
		// Macro events are always raw/keyframe-coded and episodic rather
		// than periodic, so they carry their own timestamp on the wire
		// instead of joining micro/meso's shared delta chains.
		payload = encodeMacroRaw(buf.timestampMs, buf.phases, buf.amplitudes, buf.emotions)
	case buf.isKeyframe:
		payload = encodeRaw(buf.phases, buf.amplitudes, buf.emotions)
		w.encoderFor(buf.band).Reset(buf.phases, buf.amplitudes, buf.emotions)
	default:
		enc := w.encoderFor(buf.band)
		dPhases := enc.EncodePhases(buf.phases)
		dAmps := enc.EncodeAmplitudes(buf.amplitudes)
		dEmotions := enc.EncodeEmotions(buf.emotions)
		payload = encodeRaw(dPhases, dAmps, dEmotions)
	}

	tag := byte(buf.band)
	if buf.isKeyframe {
		tag |= keyframeFlag
	}
	return writeChunk(w.bw, tag, payload)
}

func (w *Writer) encoderFor(band Band) *codec.DeltaEncoder {
	if band == BandMeso {
		return &w.encMeso
	}
	return &w.encMicro
}

func encodeRaw(phases, amplitudes, emotions []int16) []byte {
	out := make([]byte, 2*(len(phases)+len(amplitudes)+len(emotions)))
	off := 0
	for _, v := range phases {
		binary.LittleEndian.PutUint16(out[off:], uint16(v))
		off += 2
	}
	for _, v := range amplitudes {
		binary.LittleEndian.PutUint16(out[off:], uint16(v))
		off += 2
	}
	for _, v := range emotions {
		binary.LittleEndian.PutUint16(out[off:], uint16(v))
		off += 2
	}
	return out
}

// encodeMacroRaw prepends an 8-byte little-endian wall-clock timestamp to
// a macro event's raw quantized arrays. Macro events are irregular and
// episodic, so -- unlike micro/meso, whose timestamps the reader derives
// from ordinal position -- they must carry their own on the wire.
func encodeMacroRaw(timestampMs uint64, phases, amplitudes, emotions []int16) []byte {
	raw := encodeRaw(phases, amplitudes, emotions)
	out := make([]byte, 8+len(raw))
	binary.LittleEndian.PutUint64(out[0:8], timestampMs)
	copy(out[8:], raw)
	return out
}

func writeChunk(bw *bufio.Writer, tag byte, payload []byte) error {
	if err := bw.WriteByte(tag); err != nil {
		return psierr.Wrap(psierr.Io, "write chunk tag", err)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := bw.Write(lenBuf[:n]); err != nil {
		return psierr.Wrap(psierr.Io, "write chunk length", err)
	}
	if _, err := bw.Write(payload); err != nil {
		return psierr.Wrap(psierr.Io, "write chunk payload", err)
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))
	if _, err := bw.Write(crcBuf[:]); err != nil {
		return psierr.Wrap(psierr.Io, "write chunk crc", err)
	}
	return nil
}

func (w *Writer) flush() {
	_ = w.bw.Flush()
	_ = w.file.Sync()
}

// finish writes the end-of-stream terminator, flushes, closes, and
// atomically renames the temp file to its final path. finish is only
// reached along the clean-shutdown path; a write error instead leaves the
// temp file behind (see run).
func (w *Writer) finish() {
	_ = w.bw.WriteByte(byte(BandEnd))
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], 0)
	_, _ = w.bw.Write(lenBuf[:n])

	w.flush()
	_ = w.file.Close()
	_ = os.Rename(w.tmpPath, w.finalPath)
}

// StopRecording clears the active flag and waits for the writer goroutine
// to drain the queue and finalize. It is idempotent.
func (w *Writer) StopRecording() error {
	w.active.Store(false)
	w.wg.Wait()
	return w.Err()
}

