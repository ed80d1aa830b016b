package media

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i16Bytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func f32Bytes(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(s))
	}
	return out
}

func TestToF32RoundTrip(t *testing.T) {
	in := &Audio{Bytes: i16Bytes(0, 16384, -32768, 32767), SampleRate: 16000, Channels: 1, Format: SampleFormatI16, NumSamples: 4}
	out, err := ToF32(in)
	require.NoError(t, err)
	assert.Equal(t, SampleFormatF32, out.Format)
	assert.Equal(t, in.NumSamples, out.NumSamples)

	back, err := ToI16(out)
	require.NoError(t, err)
	assert.Equal(t, in.Bytes, back.Bytes)
}

func TestToF32RejectsWrongFormat(t *testing.T) {
	in := &Audio{Bytes: f32Bytes(0), SampleRate: 16000, Channels: 1, Format: SampleFormatF32, NumSamples: 1}
	_, err := ToF32(in)
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ErrValidation, merr.Kind)
}

func TestToI16ClampsOutOfRange(t *testing.T) {
	in := &Audio{Bytes: f32Bytes(2.0, -2.0), SampleRate: 16000, Channels: 1, Format: SampleFormatF32, NumSamples: 2}
	out, err := ToI16(in)
	require.NoError(t, err)
	s0 := int16(binary.LittleEndian.Uint16(out.Bytes[0:2]))
	s1 := int16(binary.LittleEndian.Uint16(out.Bytes[2:4]))
	assert.Equal(t, int16(32767), s0)
	assert.Equal(t, int16(-32768), s1)
}

func TestToI16RejectsWrongFormat(t *testing.T) {
	in := &Audio{Bytes: i16Bytes(0), SampleRate: 16000, Channels: 1, Format: SampleFormatI16, NumSamples: 1}
	_, err := ToI16(in)
	require.Error(t, err)
}

func TestEmptyAudioConvertsToEmpty(t *testing.T) {
	in := &Audio{Bytes: nil, SampleRate: 16000, Channels: 1, Format: SampleFormatI16, NumSamples: 0}
	out, err := ToF32(in)
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumSamples)
	assert.Empty(t, out.Bytes)
}
