package archive

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"

	"github.com/fenilsonani/psitrajectory/internal/codec"
	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// Frame is one decoded, dequantized oscillator state sample plus its
// archive metadata.
type Frame struct {
	FrameIndex  uint64
	TimestampMs uint64
	IsKeyframe  bool
	Phases      []float64
	Amplitudes  []float64
	Emotions    []float64
	PhasesQ     []int16
	AmplitudesQ []int16
	EmotionsQ   []int16
}

type chunkDescriptor struct {
	band          Band
	isKeyframe    bool
	payloadOffset int64
	payloadLength int64
	crcOffset     int64
}

type cachedKeyframe struct {
	ordinal int
	frame   Frame
}

// deltaBandIndex holds one band's chunk list, its keyframe sub-index, and
// its own FIFO-bounded decoded-keyframe cache. BandMicro and BandMeso each
// carry an independent delta chain (the writer encodes meso deltas against
// meso's own last state, not micro's), so each gets its own deltaBandIndex
// rather than sharing keyframeOrdinals/cache with the other.
type deltaBandIndex struct {
	chunks           []chunkDescriptor
	keyframeOrdinals []int

	cacheMu sync.Mutex
	cache   []cachedKeyframe
}

func (bi *deltaBandIndex) cachedKeyframeAt(ordinal int) (Frame, bool) {
	bi.cacheMu.Lock()
	defer bi.cacheMu.Unlock()
	for _, c := range bi.cache {
		if c.ordinal == ordinal {
			return c.frame, true
		}
	}
	return Frame{}, false
}

func (bi *deltaBandIndex) cacheKeyframe(ordinal int, f Frame, maxCache int) {
	bi.cacheMu.Lock()
	defer bi.cacheMu.Unlock()
	bi.cache = append(bi.cache, cachedKeyframe{ordinal: ordinal, frame: f})
	if maxCache > 0 {
		for len(bi.cache) > maxCache {
			bi.cache = bi.cache[1:] // FIFO eviction
		}
	}
}

// cachedKeyframeOrdinals returns the ordinals currently resident in the
// cache, oldest first.
func (bi *deltaBandIndex) cachedKeyframeOrdinals() []int {
	bi.cacheMu.Lock()
	defer bi.cacheMu.Unlock()
	out := make([]int, len(bi.cache))
	for i, c := range bi.cache {
		out[i] = c.ordinal
	}
	return out
}

// nearestKeyframeAtOrBefore returns the ordinal of the nearest keyframe
// with ordinal <= target, and whether one exists.
func (bi *deltaBandIndex) nearestKeyframeAtOrBefore(target int) (int, bool) {
	idx := sort.Search(len(bi.keyframeOrdinals), func(i int) bool {
		return bi.keyframeOrdinals[i] > target
	})
	if idx == 0 {
		return 0, false
	}
	return bi.keyframeOrdinals[idx-1], true
}

// ReaderConfig must match the WriterConfig used to produce the archive:
// the wire payload carries no per-array length prefixes, so the reader
// must already know the oscillator count and emotion-channel width.
type ReaderConfig struct {
	OscillatorCount   int
	EmotionDimensions int
	MaxKeyframeCache  int
	// MesoDecimation must match the WriterConfig value used to record the
	// archive; it is only used to derive meso-band frame timestamps (the
	// wire format does not persist a frame_index for any band).
	MesoDecimation int
}

// DefaultReaderConfig mirrors DefaultWriterConfig's dimensions.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		OscillatorCount:   DefaultOscillatorCount,
		EmotionDimensions: DefaultEmotionDimensions,
		MaxKeyframeCache:  DefaultMaxKeyframeCache,
		MesoDecimation:    DefaultMesoDecimation,
	}
}

// Reader memory-maps a finalized ΨARC file read-only and serves random
// access to individual frames by index.
type Reader struct {
	ra               *mmap.ReaderAt
	cfg              ReaderConfig
	startTimestampMs uint64

	// micro indexes BandMicro chunks, in file order; an ordinal position
	// IS the frame's address for ReadFrame, assigned purely by scan order
	// (see DESIGN.md: this is distinct from the writer's capture-time
	// atomic frame_index counter, which may show gaps under backpressure
	// that the persisted archive cannot reconstruct since frame_index
	// itself is never written to the wire format).
	micro deltaBandIndex
	// meso indexes the decimated BandMeso chunks the same way, on its own
	// independent delta chain and keyframe sub-index.
	meso deltaBandIndex
	// macroChunks indexes BandMacro chunks. Macro events are always
	// raw/keyframe-coded (no delta chain) and, unlike micro/meso, are not
	// periodic -- each macro chunk's payload carries its own captured
	// wall-clock timestamp rather than relying on a derived-from-ordinal
	// formula.
	macroChunks []chunkDescriptor
}

// Open memory-maps path, verifies the header, and performs a single
// forward scan building the chunk/keyframe index.
func Open(path string, cfg ReaderConfig) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, psierr.Wrap(psierr.Io, "mmap open archive", err)
	}

	r := &Reader{ra: ra, cfg: cfg}
	if err := r.readHeader(); err != nil {
		_ = ra.Close()
		return nil, err
	}
	if err := r.scanChunks(); err != nil {
		_ = ra.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the memory mapping.
func (r *Reader) Close() error {
	return r.ra.Close()
}

func (r *Reader) readHeader() error {
	header := make([]byte, HeaderSize)
	if _, err := r.ra.ReadAt(header, 0); err != nil {
		return psierr.Wrap(psierr.Io, "read archive header", err)
	}
	magic := magicBytes()
	if string(header[0:5]) != string(magic[:]) {
		return psierr.New(psierr.InvalidFormat, "bad archive magic")
	}
	version := binary.LittleEndian.Uint16(header[5:7])
	if version != Version {
		return psierr.New(psierr.UnsupportedVersion, "unsupported archive version")
	}
	r.startTimestampMs = binary.LittleEndian.Uint64(header[7:15])
	wantCRC := binary.LittleEndian.Uint32(header[15:19])
	gotCRC := crc32.ChecksumIEEE(header[0:15])
	if gotCRC != wantCRC {
		return psierr.New(psierr.InvalidFormat, "archive header CRC mismatch")
	}
	return nil
}

func (r *Reader) readUvarintAt(offset int64) (uint64, int64, error) {
	maxLen := int64(binary.MaxVarintLen64)
	remaining := int64(r.ra.Len()) - offset
	if remaining < maxLen {
		maxLen = remaining
	}
	if maxLen <= 0 {
		return 0, 0, psierr.New(psierr.InvalidFormat, "truncated archive: expected varint")
	}
	buf := make([]byte, maxLen)
	n, err := r.ra.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return 0, 0, psierr.Wrap(psierr.Io, "read varint", err)
	}
	val, consumed := binary.Uvarint(buf[:n])
	if consumed <= 0 {
		return 0, 0, psierr.New(psierr.InvalidFormat, "malformed LEB128 length")
	}
	return val, int64(consumed), nil
}

func (r *Reader) scanChunks() error {
	offset := int64(HeaderSize)
	total := int64(r.ra.Len())

	for offset < total {
		var tagBuf [1]byte
		if _, err := r.ra.ReadAt(tagBuf[:], offset); err != nil {
			return psierr.Wrap(psierr.Io, "read chunk tag", err)
		}
		tag := tagBuf[0]
		offset++

		length, consumed, err := r.readUvarintAt(offset)
		if err != nil {
			return err
		}
		offset += consumed

		if tag == byte(BandEnd) {
			break
		}

		band := Band(tag & bandMask)
		isKeyframe := tag&keyframeFlag != 0

		desc := chunkDescriptor{
			band:          band,
			isKeyframe:    isKeyframe,
			payloadOffset: offset,
			payloadLength: int64(length),
			crcOffset:     offset + int64(length),
		}
		offset += int64(length) + 4 // payload + trailing CRC32

		switch band {
		case BandMicro:
			if isKeyframe {
				r.micro.keyframeOrdinals = append(r.micro.keyframeOrdinals, len(r.micro.chunks))
			}
			r.micro.chunks = append(r.micro.chunks, desc)
		case BandMeso:
			if isKeyframe {
				r.meso.keyframeOrdinals = append(r.meso.keyframeOrdinals, len(r.meso.chunks))
			}
			r.meso.chunks = append(r.meso.chunks, desc)
		case BandMacro:
			r.macroChunks = append(r.macroChunks, desc)
		}
	}
	return nil
}

func (r *Reader) readPayload(desc chunkDescriptor) ([]byte, error) {
	payload := make([]byte, desc.payloadLength)
	if _, err := r.ra.ReadAt(payload, desc.payloadOffset); err != nil {
		return nil, psierr.Wrap(psierr.Io, "read chunk payload", err)
	}
	var crcBuf [4]byte
	if _, err := r.ra.ReadAt(crcBuf[:], desc.crcOffset); err != nil {
		return nil, psierr.Wrap(psierr.Io, "read chunk crc", err)
	}
	want := binary.LittleEndian.Uint32(crcBuf[:])
	got := crc32.ChecksumIEEE(payload)
	if got != want {
		return nil, psierr.New(psierr.InvalidFormat, "chunk payload CRC mismatch")
	}
	return payload, nil
}

func (r *Reader) decodeVisualPayload(payload []byte) (phases, amplitudes, emotions []int16, err error) {
	d := r.cfg.OscillatorCount
	e := r.cfg.EmotionDimensions
	want := 2 * (d + d + e)
	if len(payload) < want {
		return nil, nil, nil, psierr.New(psierr.InvalidFormat, "payload too short for declared content")
	}
	phases = make([]int16, d)
	amplitudes = make([]int16, d)
	emotions = make([]int16, e)
	off := 0
	for i := 0; i < d; i++ {
		phases[i] = int16(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
	}
	for i := 0; i < d; i++ {
		amplitudes[i] = int16(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
	}
	for i := 0; i < e; i++ {
		emotions[i] = int16(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
	}
	return phases, amplitudes, emotions, nil
}

// decodeMacroPayload strips the 8-byte little-endian wall-clock timestamp
// that precedes every macro chunk's raw quantized arrays -- macro events
// are episodic, not periodic, so unlike micro/meso they cannot derive a
// timestamp from their ordinal position and carry one on the wire instead.
func (r *Reader) decodeMacroPayload(payload []byte) (timestampMs uint64, phases, amplitudes, emotions []int16, err error) {
	if len(payload) < 8 {
		return 0, nil, nil, nil, psierr.New(psierr.InvalidFormat, "macro payload too short for timestamp prefix")
	}
	timestampMs = binary.LittleEndian.Uint64(payload[0:8])
	phases, amplitudes, emotions, err = r.decodeVisualPayload(payload[8:])
	return timestampMs, phases, amplitudes, emotions, err
}

// timestampForOrdinal derives the reader-authoritative timestamp for a
// given micro-band frame ordinal: start_ts + ordinal*16ms, per spec.md's
// resolution of the writer/reader timestamp disagreement.
func (r *Reader) timestampForOrdinal(ordinal int) uint64 {
	return r.startTimestampMs + uint64(ordinal)*NominalFramePeriodMs
}

// mesoTimestampForOrdinal applies the same derivation to the decimated
// meso band: each meso ordinal advances MesoDecimation micro frame periods.
func (r *Reader) mesoTimestampForOrdinal(ordinal int) uint64 {
	decimation := uint64(r.cfg.MesoDecimation)
	if decimation == 0 {
		decimation = 1
	}
	return r.startTimestampMs + uint64(ordinal)*decimation*NominalFramePeriodMs
}

func dequantizeFrame(ordinal int, isKeyframe bool, timestampMs uint64, phasesQ, ampsQ, emotionsQ []int16) Frame {
	phases := make([]float64, len(phasesQ))
	for i, q := range phasesQ {
		phases[i] = codec.DequantizePhase(q)
	}
	amps := make([]float64, len(ampsQ))
	for i, q := range ampsQ {
		amps[i] = codec.DequantizeUnit(q)
	}
	emotions := make([]float64, len(emotionsQ))
	for i, q := range emotionsQ {
		emotions[i] = codec.DequantizeUnit(q)
	}
	return Frame{
		FrameIndex:  uint64(ordinal),
		TimestampMs: timestampMs,
		IsKeyframe:  isKeyframe,
		Phases:      phases,
		Amplitudes:  amps,
		Emotions:    emotions,
		PhasesQ:     phasesQ,
		AmplitudesQ: ampsQ,
		EmotionsQ:   emotionsQ,
	}
}

// CachedKeyframeOrdinals returns the micro-band ordinals currently resident
// in the decoded-keyframe cache, oldest first. Exposed for diagnostics and
// tests; callers must not assume any particular ordering survives future
// calls.
func (r *Reader) CachedKeyframeOrdinals() []int {
	return r.micro.cachedKeyframeOrdinals()
}

// FrameCount returns the number of micro-band (visually addressable)
// frames recorded in the archive.
func (r *Reader) FrameCount() int { return len(r.micro.chunks) }

// MesoFrameCount returns the number of decimated meso-band frames recorded.
func (r *Reader) MesoFrameCount() int { return len(r.meso.chunks) }

// MacroEventCount returns the number of macro-band events recorded.
func (r *Reader) MacroEventCount() int { return len(r.macroChunks) }

// VerifyAll checks every micro-, meso-, and macro-band chunk's payload
// CRC32 in parallel, fanning work out across GOMAXPROCS workers with
// errgroup.WithContext so the first failure cancels the rest. Unlike
// per-frame reads, which verify lazily on first access, VerifyAll eagerly
// checks the whole archive -- used by archive-integrity tooling rather
// than the hot replay path.
func (r *Reader) VerifyAll(ctx context.Context) error {
	all := make([]chunkDescriptor, 0, len(r.micro.chunks)+len(r.meso.chunks)+len(r.macroChunks))
	all = append(all, r.micro.chunks...)
	all = append(all, r.meso.chunks...)
	all = append(all, r.macroChunks...)

	g, ctx := errgroup.WithContext(ctx)
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(all) {
		workers = len(all)
	}
	if workers == 0 {
		return nil
	}

	chunkIdx := make(chan int)
	g.Go(func() error {
		defer close(chunkIdx)
		for i := range all {
			select {
			case chunkIdx <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range chunkIdx {
				if _, err := r.readPayload(all[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// readDeltaChain performs random access by ordinal within a single delta
// band: on a cache hit, or directly for a keyframe, decode in place;
// otherwise locate the nearest keyframe at or before i, decode it, and
// replay deltas forward through i.
func (r *Reader) readDeltaChain(bi *deltaBandIndex, i int, timestampFn func(int) uint64) (Frame, error) {
	if i < 0 || i >= len(bi.chunks) {
		return Frame{}, psierr.New(psierr.InvalidParameter, "frame index out of range")
	}

	if f, ok := bi.cachedKeyframeAt(i); ok {
		return f, nil
	}

	keyOrdinal, ok := bi.nearestKeyframeAtOrBefore(i)
	if !ok {
		return Frame{}, psierr.New(psierr.InvalidFormat, "no keyframe available before requested frame")
	}

	kDesc := bi.chunks[keyOrdinal]
	payload, err := r.readPayload(kDesc)
	if err != nil {
		return Frame{}, err
	}
	phasesQ, ampsQ, emotionsQ, err := r.decodeVisualPayload(payload)
	if err != nil {
		return Frame{}, err
	}

	var dec codec.DeltaDecoder
	dec.Seed(phasesQ, ampsQ, emotionsQ)

	// The seed keyframe is always cached here, even when i itself lands
	// later via delta replay -- a later read for this same keyframe
	// ordinal must observe a cache hit without re-reading its chunk.
	seedFrame := dequantizeFrame(keyOrdinal, true, timestampFn(keyOrdinal), phasesQ, ampsQ, emotionsQ)
	bi.cacheKeyframe(keyOrdinal, seedFrame, r.cfg.MaxKeyframeCache)

	if keyOrdinal == i {
		return seedFrame, nil
	}

	for ord := keyOrdinal + 1; ord <= i; ord++ {
		desc := bi.chunks[ord]
		payload, err := r.readPayload(desc)
		if err != nil {
			return Frame{}, err
		}
		dPhases, dAmps, dEmotions, err := r.decodeVisualPayload(payload)
		if err != nil {
			return Frame{}, err
		}
		phasesQ = dec.ApplyPhaseDeltas(dPhases)
		ampsQ = dec.ApplyAmplitudeDeltas(dAmps)
		emotionsQ = dec.ApplyEmotionDeltas(dEmotions)
	}

	f := dequantizeFrame(i, bi.chunks[i].isKeyframe, timestampFn(i), phasesQ, ampsQ, emotionsQ)
	if f.IsKeyframe {
		bi.cacheKeyframe(i, f, r.cfg.MaxKeyframeCache)
	}
	return f, nil
}

// ReadFrame performs random access into the micro-band frame stream by
// frame ordinal.
func (r *Reader) ReadFrame(i int) (Frame, error) {
	return r.readDeltaChain(&r.micro, i, r.timestampForOrdinal)
}

// ReadMesoFrame performs random access into the decimated meso-band frame
// stream by its own ordinal addressing (distinct from micro's).
func (r *Reader) ReadMesoFrame(i int) (Frame, error) {
	return r.readDeltaChain(&r.meso, i, r.mesoTimestampForOrdinal)
}

// ReadMacroEvent decodes the i-th macro-band event. Macro events are
// always raw/keyframe-coded with no delta chain, and each carries its own
// captured wall-clock timestamp rather than a derived-from-ordinal one.
func (r *Reader) ReadMacroEvent(i int) (Frame, error) {
	if i < 0 || i >= len(r.macroChunks) {
		return Frame{}, psierr.New(psierr.InvalidParameter, "macro event index out of range")
	}
	payload, err := r.readPayload(r.macroChunks[i])
	if err != nil {
		return Frame{}, err
	}
	timestampMs, phasesQ, ampsQ, emotionsQ, err := r.decodeMacroPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return dequantizeFrame(i, true, timestampMs, phasesQ, ampsQ, emotionsQ), nil
}
