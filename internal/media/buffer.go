// Package media defines the typed buffer values that flow across pipeline
// edges, plus the conversion helpers and error taxonomy the rest of the core
// builds on.
package media

import (
	"fmt"
	"time"
)

// SampleFormat identifies the PCM encoding of an Audio buffer.
type SampleFormat string

const (
	SampleFormatF32 SampleFormat = "f32"
	SampleFormatI16 SampleFormat = "i16"
	SampleFormatI32 SampleFormat = "i32"
)

// BytesPerSample returns the on-wire sample width for a format.
func BytesPerSample(f SampleFormat) int {
	switch f {
	case SampleFormatF32, SampleFormatI32:
		return 4
	case SampleFormatI16:
		return 2
	default:
		return 0
	}
}

// Kind tags which variant of Buffer is populated.
type Kind string

const (
	KindAudio   Kind = "audio"
	KindVideo   Kind = "video"
	KindText    Kind = "text"
	KindJSON    Kind = "json"
	KindBinary  Kind = "binary"
	KindControl Kind = "control"
)

// Audio is the raw-sample variant of Buffer. Bytes are little-endian and,
// for multi-channel audio, interleaved (L,R,L,R,... for stereo).
type Audio struct {
	Bytes       []byte
	SampleRate  int // Hz, 8000-192000
	Channels    int // 1-8
	Format      SampleFormat
	NumSamples  int // total samples across all channels
}

// Validate checks the audio invariants from the spec: byte length must match
// the declared sample count and format width, and samples must divide evenly
// across channels.
func (a *Audio) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("sample rate %d out of range [8000,192000]", a.SampleRate)}
	}
	if a.Channels < 1 || a.Channels > 8 {
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("channel count %d out of range [1,8]", a.Channels)}
	}
	bps := BytesPerSample(a.Format)
	if bps == 0 {
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("unknown sample format %q", a.Format)}
	}
	if len(a.Bytes) != a.NumSamples*bps {
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("audio byte length %d does not match num_samples(%d)*bytes_per_sample(%d)", len(a.Bytes), a.NumSamples, bps)}
	}
	if a.NumSamples%a.Channels != 0 {
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("num_samples %d not divisible by channels %d", a.NumSamples, a.Channels)}
	}
	return nil
}

// VideoFrame is the raster-frame variant of Buffer.
type VideoFrame struct {
	Bytes       []byte
	Width       int
	Height      int
	PixelFormat string
	Timestamp   time.Time
}

// Binary is an opaque byte payload with an optional MIME tag.
type Binary struct {
	Bytes []byte
	MIME  string
}

// Buffer is the tagged-union value passed between nodes on an edge. Exactly
// one of the payload fields matching Kind is populated; the others are zero.
// Buffers are immutable once emitted onto an edge — ownership transfers to
// the consumer and no in-place mutation is permitted afterward.
type Buffer struct {
	Kind    Kind
	Audio   *Audio
	Video   *VideoFrame
	Text    string
	JSON    any
	Binary  *Binary
	Control *Control
}

// Validate runs the edge-boundary invariant checks for whichever variant is
// populated. Callers on the debug/ingress boundary (router ingress from the
// transport, or edges in a debug build) should call this before handing a
// buffer to a node.
func (b *Buffer) Validate() error {
	switch b.Kind {
	case KindAudio:
		if b.Audio == nil {
			return &Error{Kind: ErrValidation, Message: "audio buffer missing payload"}
		}
		return b.Audio.Validate()
	case KindVideo:
		if b.Video == nil {
			return &Error{Kind: ErrValidation, Message: "video buffer missing payload"}
		}
	case KindBinary:
		if b.Binary == nil {
			return &Error{Kind: ErrValidation, Message: "binary buffer missing payload"}
		}
	case KindControl:
		if b.Control == nil {
			return &Error{Kind: ErrValidation, Message: "control buffer missing payload"}
		}
	case KindText, KindJSON:
		// No structural invariant beyond the tag itself.
	default:
		return &Error{Kind: ErrValidation, Message: fmt.Sprintf("unknown buffer kind %q", b.Kind)}
	}
	return nil
}

// Empty reports whether this is a zero-sample audio buffer (the boundary
// case in the spec's testable properties: an empty input must still
// propagate through pass-through nodes as a zero-sample output).
func (b *Buffer) Empty() bool {
	return b.Kind == KindAudio && b.Audio != nil && b.Audio.NumSamples == 0
}
