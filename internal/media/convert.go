package media

import (
	"encoding/binary"
	"math"
)

// ToF32 converts interleaved i16 PCM bytes to f32 samples using
// f32 = i16 / 32768.0.
func ToF32(a *Audio) (*Audio, error) {
	if a.Format != SampleFormatI16 {
		return nil, &Error{Kind: ErrValidation, Message: "ToF32 requires i16 input"}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, a.NumSamples*4)
	for i := 0; i < a.NumSamples; i++ {
		sample := int16(binary.LittleEndian.Uint16(a.Bytes[i*2 : i*2+2]))
		f := float32(sample) / 32768.0
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(f))
	}
	return &Audio{
		Bytes:      out,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Format:     SampleFormatF32,
		NumSamples: a.NumSamples,
	}, nil
}

// ToI16 converts interleaved f32 PCM bytes to i16 samples using
// i16 = clamp(round(f32 * 32768), -32768, 32767).
func ToI16(a *Audio) (*Audio, error) {
	if a.Format != SampleFormatF32 {
		return nil, &Error{Kind: ErrValidation, Message: "ToI16 requires f32 input"}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, a.NumSamples*2)
	for i := 0; i < a.NumSamples; i++ {
		bits := binary.LittleEndian.Uint32(a.Bytes[i*4 : i*4+4])
		f := math.Float32frombits(bits)
		scaled := math.Round(float64(f) * 32768.0)
		clamped := clamp(scaled, -32768, 32767)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(clamped)))
	}
	return &Audio{
		Bytes:      out,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Format:     SampleFormatI16,
		NumSamples: a.NumSamples,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
