package codec

// EncodePhaseDelta computes the wrap-aware delta between two quantized
// phase samples: raw = curr - prev, wrapped into (-2^15, +2^15] by adding
// or subtracting 2^16 as needed, then cast to int16. This realizes
// d(theta) = ((theta2 - theta1 + pi) mod 2*pi) - pi in the fixed-point
// domain.
func EncodePhaseDelta(prev, curr int16) int16 {
	raw := int32(curr) - int32(prev)
	if raw > 32767 {
		raw -= 65536
	} else if raw <= -32768 {
		raw += 65536
	}
	return int16(raw)
}

// DecodePhaseDelta applies a phase delta with wrapping (mod 2^16)
// addition, the exact inverse of EncodePhaseDelta regardless of which way
// the original delta wrapped.
func DecodePhaseDelta(prev, delta int16) int16 {
	return prev + delta
}

// EncodeUnitDelta computes the plain (non-wrapping) delta between two
// quantized amplitude or emotion samples.
func EncodeUnitDelta(prev, curr int16) int16 {
	return curr - prev
}

// DecodeUnitDelta applies an amplitude/emotion delta with saturating
// addition, clamping to the int16 range instead of wrapping.
func DecodeUnitDelta(prev, delta int16) int16 {
	sum := int32(prev) + int32(delta)
	return clampInt32(sum)
}

// DeltaEncoder holds the "last" quantized state for each channel and
// produces deltas relative to it; Reset seeds (or reseeds, at a keyframe)
// the last-state vectors directly with raw quantized values.
type DeltaEncoder struct {
	lastPhases     []int16
	lastAmplitudes []int16
	lastEmotions   []int16
}

// Reset seeds the encoder's last-state vectors, as happens when a
// keyframe is emitted.
func (e *DeltaEncoder) Reset(phases, amplitudes, emotions []int16) {
	e.lastPhases = append(e.lastPhases[:0], phases...)
	e.lastAmplitudes = append(e.lastAmplitudes[:0], amplitudes...)
	e.lastEmotions = append(e.lastEmotions[:0], emotions...)
}

// EncodePhases returns the wrap-aware deltas of phases against the last
// state, then updates the last state to phases.
func (e *DeltaEncoder) EncodePhases(phases []int16) []int16 {
	out := make([]int16, len(phases))
	for i, curr := range phases {
		out[i] = EncodePhaseDelta(e.lastPhases[i], curr)
	}
	e.lastPhases = append(e.lastPhases[:0], phases...)
	return out
}

// EncodeAmplitudes returns the plain deltas of amplitudes against the
// last state, then updates the last state.
func (e *DeltaEncoder) EncodeAmplitudes(amplitudes []int16) []int16 {
	out := make([]int16, len(amplitudes))
	for i, curr := range amplitudes {
		out[i] = EncodeUnitDelta(e.lastAmplitudes[i], curr)
	}
	e.lastAmplitudes = append(e.lastAmplitudes[:0], amplitudes...)
	return out
}

// EncodeEmotions returns the plain deltas of emotions against the last
// state, then updates the last state.
func (e *DeltaEncoder) EncodeEmotions(emotions []int16) []int16 {
	out := make([]int16, len(emotions))
	for i, curr := range emotions {
		out[i] = EncodeUnitDelta(e.lastEmotions[i], curr)
	}
	e.lastEmotions = append(e.lastEmotions[:0], emotions...)
	return out
}

// DeltaDecoder mirrors DeltaEncoder on the replay side: phase deltas
// apply with wrapping addition, amplitude/emotion deltas with saturating
// addition -- this asymmetry is load-bearing, not an inconsistency.
type DeltaDecoder struct {
	lastPhases     []int16
	lastAmplitudes []int16
	lastEmotions   []int16
}

// Seed sets the decoder's last-state vectors directly from a decoded
// keyframe's raw values.
func (d *DeltaDecoder) Seed(phases, amplitudes, emotions []int16) {
	d.lastPhases = append(d.lastPhases[:0], phases...)
	d.lastAmplitudes = append(d.lastAmplitudes[:0], amplitudes...)
	d.lastEmotions = append(d.lastEmotions[:0], emotions...)
}

// ApplyPhaseDeltas decodes a vector of phase deltas with wrapping
// addition against the last state, updating it in place.
func (d *DeltaDecoder) ApplyPhaseDeltas(deltas []int16) []int16 {
	out := make([]int16, len(deltas))
	for i, delta := range deltas {
		out[i] = DecodePhaseDelta(d.lastPhases[i], delta)
	}
	d.lastPhases = append(d.lastPhases[:0], out...)
	return out
}

// ApplyAmplitudeDeltas decodes a vector of amplitude deltas with
// saturating addition against the last state, updating it in place.
func (d *DeltaDecoder) ApplyAmplitudeDeltas(deltas []int16) []int16 {
	out := make([]int16, len(deltas))
	for i, delta := range deltas {
		out[i] = DecodeUnitDelta(d.lastAmplitudes[i], delta)
	}
	d.lastAmplitudes = append(d.lastAmplitudes[:0], out...)
	return out
}

// ApplyEmotionDeltas decodes a vector of emotion deltas with saturating
// addition against the last state, updating it in place.
func (d *DeltaDecoder) ApplyEmotionDeltas(deltas []int16) []int16 {
	out := make([]int16, len(deltas))
	for i, delta := range deltas {
		out[i] = DecodeUnitDelta(d.lastEmotions[i], delta)
	}
	d.lastEmotions = append(d.lastEmotions[:0], out...)
	return out
}
