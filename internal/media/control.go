package media

import "time"

// ControlKind identifies which control message variant is populated.
type ControlKind string

const (
	ControlReady              ControlKind = "ready"
	ControlShutdown           ControlKind = "shutdown"
	ControlCancel             ControlKind = "cancel"
	ControlCancelSpeculation  ControlKind = "cancel_speculation"
	ControlHeartbeat          ControlKind = "heartbeat"
	ControlStreamError        ControlKind = "stream_error"
)

// Control is a control message. Cancellation reaches a session's driver
// tasks through context cancellation, which each driver checks before
// pulling its next input; the CancelSpeculation and StreamError messages the
// router emits travel as KindControl buffers on the ordinary data edges, in
// order with the data around them.
type Control struct {
	Kind ControlKind

	// Shutdown
	GraceMillis int64

	// CancelSpeculation
	FromTimestamp time.Time
	ToTimestamp   time.Time
	SegmentID     string
	Reason        string

	// StreamError
	ErrorKind ErrKind
	Detail    string
}

// NewCancelSpeculation builds a CancelSpeculation control message.
func NewCancelSpeculation(from, to time.Time, segmentID, reason string) *Control {
	return &Control{
		Kind:          ControlCancelSpeculation,
		FromTimestamp: from,
		ToTimestamp:   to,
		SegmentID:     segmentID,
		Reason:        reason,
	}
}

// Envelope wraps a Buffer with transport-level routing metadata. Sequence
// numbers, when present, are strictly increasing per (session, edge).
type Envelope struct {
	Payload  Buffer
	Sequence *int64
	Metadata map[string]string
}

// Clone returns a shallow copy of the envelope with its own metadata map, so
// a fan-out to multiple consumers can attach per-consumer metadata without
// mutating the shared original.
func (e *Envelope) Clone() *Envelope {
	md := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	seq := e.Sequence
	return &Envelope{Payload: e.Payload, Sequence: seq, Metadata: md}
}
