// Package snapshot implements the ALSN/ALSNZ state-snapshot format: a
// fixed-layout, CRC-tagged binary encoding of a full oscillator-network
// state, with an optional zstd-compressed variant for at-rest storage.
package snapshot

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/fenilsonani/psitrajectory/internal/core/oscillator"
	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

const (
	identifier           = "ALSN"
	compressedIdentifier = "ALSNZ"

	// schemaCRC32 is a fixed sentinel identifying the layout below, not a
	// checksum recomputed over the payload; it changes only when the
	// on-disk schema itself changes.
	schemaCRC32 uint32 = 0x8A7B4C3D

	version uint16 = 0x0200 // 2.0

	endianLittle byte = 0
	endianBig    byte = 1
)

// Version returns the schema version as a (major, minor) pair.
func Version() (major, minor uint8) {
	return uint8(version >> 8), uint8(version & 0xFF)
}

// StateSnapshot is the complete persisted state of an oscillator network:
// phase angles, phase momenta, spin vectors, and spin momenta, plus the
// integration timesteps and an optional cached regularization parameter.
type StateSnapshot struct {
	Theta   []float64
	PTheta  []float64
	Sigma   []oscillator.Spin
	PSigma  []oscillator.Spin
	DtPhase float64
	DtSpin  float64
	Lambda  *float64
}

// FromNetworkState builds a snapshot from a live oscillator.State plus the
// network parameters that govern its evolution.
func FromNetworkState(s *oscillator.State, dtPhase, dtSpin float64, lambda *float64) *StateSnapshot {
	return &StateSnapshot{
		Theta:   append([]float64(nil), s.Theta...),
		PTheta:  append([]float64(nil), s.PTheta...),
		Sigma:   append([]oscillator.Spin(nil), s.Sigma...),
		PSigma:  append([]oscillator.Spin(nil), s.PSigma...),
		DtPhase: dtPhase,
		DtSpin:  dtSpin,
		Lambda:  lambda,
	}
}

// NOscillators returns the number of oscillators in the snapshot.
func (s *StateSnapshot) NOscillators() int { return len(s.Theta) }

func putFloat32(buf []byte, v float64) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
}

func getFloat32(buf []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
}

// ToBytes serializes the snapshot to the ALSN wire layout:
//
//	"ALSN"(4) | version(2) | schema_crc32(4) | endian(1) |
//	dt_phase f32(4) | dt_spin f32(4) | has_lambda(1) | [lambda f32(4)] |
//	n u32(4) | theta[n] f32 | p_theta[n] f32 | sigma[n][3] f32 | p_sigma[n][3] f32
func (s *StateSnapshot) ToBytes() ([]byte, error) {
	n := s.NOscillators()
	if len(s.PTheta) != n || len(s.Sigma) != n || len(s.PSigma) != n {
		return nil, psierr.New(psierr.DimensionMismatch, "snapshot arrays have mismatched lengths")
	}

	headerLen := 4 + 2 + 4 + 1 + 4 + 4 + 1
	if s.Lambda != nil {
		headerLen += 4
	}
	headerLen += 4 // n
	bodyLen := n*4 + n*4 + n*12 + n*12
	buf := make([]byte, headerLen+bodyLen)

	off := 0
	copy(buf[off:], identifier)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], version)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], schemaCRC32)
	off += 4
	buf[off] = endianLittle
	off++
	putFloat32(buf[off:], s.DtPhase)
	off += 4
	putFloat32(buf[off:], s.DtSpin)
	off += 4
	if s.Lambda != nil {
		buf[off] = 1
		off++
		putFloat32(buf[off:], *s.Lambda)
		off += 4
	} else {
		buf[off] = 0
		off++
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(n))
	off += 4

	for _, v := range s.Theta {
		putFloat32(buf[off:], v)
		off += 4
	}
	for _, v := range s.PTheta {
		putFloat32(buf[off:], v)
		off += 4
	}
	for _, v := range s.Sigma {
		for _, c := range v {
			putFloat32(buf[off:], c)
			off += 4
		}
	}
	for _, v := range s.PSigma {
		for _, c := range v {
			putFloat32(buf[off:], c)
			off += 4
		}
	}
	return buf, nil
}

// FromBytes deserializes an ALSN buffer, rejecting mismatched version,
// schema, or endianness (the format is little-endian only; a big-endian
// flag byte means the snapshot came from an incompatible host and is
// refused rather than byte-swapped).
func FromBytes(buf []byte) (*StateSnapshot, error) {
	const minHeader = 4 + 2 + 4 + 1 + 4 + 4 + 1
	if len(buf) < minHeader {
		return nil, psierr.New(psierr.InvalidFormat, "snapshot buffer too small")
	}
	if string(buf[0:4]) != identifier {
		return nil, psierr.New(psierr.InvalidFormat, "bad snapshot identifier")
	}
	gotVersion := binary.LittleEndian.Uint16(buf[4:6])
	if gotVersion != version {
		return nil, psierr.New(psierr.UnsupportedVersion, "incompatible snapshot schema version")
	}
	gotCRC := binary.LittleEndian.Uint32(buf[6:10])
	if gotCRC != schemaCRC32 {
		return nil, psierr.New(psierr.InvalidFormat, "snapshot schema CRC mismatch")
	}
	endian := buf[10]
	if endian == endianBig {
		return nil, psierr.New(psierr.EndianMismatch, "big-endian snapshots are not supported")
	}
	if endian != endianLittle {
		return nil, psierr.New(psierr.InvalidFormat, "unrecognized endianness flag")
	}

	off := 11
	dtPhase := getFloat32(buf[off:])
	off += 4
	dtSpin := getFloat32(buf[off:])
	off += 4

	hasLambda := buf[off] != 0
	off++
	var lambda *float64
	if hasLambda {
		if len(buf) < off+4 {
			return nil, psierr.New(psierr.InvalidFormat, "snapshot buffer truncated before lambda")
		}
		v := getFloat32(buf[off:])
		lambda = &v
		off += 4
	}

	if len(buf) < off+4 {
		return nil, psierr.New(psierr.InvalidFormat, "snapshot buffer truncated before oscillator count")
	}
	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	expected := off + n*4 + n*4 + n*12 + n*12
	if len(buf) < expected {
		return nil, psierr.New(psierr.InvalidFormat, "snapshot buffer shorter than declared content")
	}

	theta := make([]float64, n)
	for i := range theta {
		theta[i] = getFloat32(buf[off:])
		off += 4
	}
	pTheta := make([]float64, n)
	for i := range pTheta {
		pTheta[i] = getFloat32(buf[off:])
		off += 4
	}
	sigma := make([]oscillator.Spin, n)
	for i := range sigma {
		for c := 0; c < 3; c++ {
			sigma[i][c] = getFloat32(buf[off:])
			off += 4
		}
	}
	pSigma := make([]oscillator.Spin, n)
	for i := range pSigma {
		for c := 0; c < 3; c++ {
			pSigma[i][c] = getFloat32(buf[off:])
			off += 4
		}
	}

	return &StateSnapshot{
		Theta:   theta,
		PTheta:  pTheta,
		Sigma:   sigma,
		PSigma:  pSigma,
		DtPhase: dtPhase,
		DtSpin:  dtSpin,
		Lambda:  lambda,
	}, nil
}

// DefaultEntropyThreshold mirrors the reference compressor's sampled-entropy
// gate: payloads whose estimated entropy meets or exceeds this threshold are
// already near-incompressible, so Save skips the zstd pass and stores them
// raw even when compress is requested.
const DefaultEntropyThreshold = 7.5

// sampledEntropy estimates the Shannon entropy, in bits per byte, of a
// representative sample of buf (the whole buffer for small payloads, a
// bounded prefix for large ones).
func sampledEntropy(buf []byte) float64 {
	const maxSample = 65536
	sample := buf
	if len(sample) > maxSample {
		sample = sample[:maxSample]
	}
	if len(sample) == 0 {
		return 0
	}

	var histogram [256]int
	for _, b := range sample {
		histogram[b]++
	}

	entropy := 0.0
	n := float64(len(sample))
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Save writes the snapshot to path, optionally zstd-compressed behind the
// "ALSNZ" identifier. Compression is skipped -- even when requested -- if
// the serialized payload's sampled entropy already meets
// DefaultEntropyThreshold, since such payloads do not compress well.
func (s *StateSnapshot) Save(path string, compress bool) error {
	raw, err := s.ToBytes()
	if err != nil {
		return err
	}

	if compress && sampledEntropy(raw) >= DefaultEntropyThreshold {
		compress = false
	}

	var out []byte
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return psierr.Wrap(psierr.Io, "create zstd encoder", err)
		}
		compressed := enc.EncodeAll(raw, nil)
		_ = enc.Close()
		out = make([]byte, 0, len(compressedIdentifier)+len(compressed))
		out = append(out, compressedIdentifier...)
		out = append(out, compressed...)
	} else {
		out = raw
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return psierr.Wrap(psierr.Io, "write snapshot file", err)
	}
	return nil
}

// Load reads a snapshot from path, transparently decompressing it if it
// carries the "ALSNZ" identifier.
func Load(path string) (*StateSnapshot, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, psierr.Wrap(psierr.Io, "read snapshot file", err)
	}

	if len(buf) >= len(compressedIdentifier) && string(buf[:len(compressedIdentifier)]) == compressedIdentifier {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, psierr.Wrap(psierr.Io, "create zstd decoder", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(buf[len(compressedIdentifier):], nil)
		if err != nil {
			return nil, psierr.Wrap(psierr.Io, "decompress snapshot", err)
		}
		return FromBytes(raw)
	}

	return FromBytes(buf)
}
