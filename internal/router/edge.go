package router

import (
	"context"
	"sync/atomic"

	"github.com/mediacore/pipelinecore/internal/media"
)

const (
	defaultAudioQueueDepth = 16  // frames
	defaultTextQueueDepth  = 100 // tokens
	defaultQueueDepth      = 32  // video/binary/json/control
)

// edge is a bounded, in-process queue carrying envelopes from one node's
// output to another's input. Depth is chosen from the producing node's
// payload kind, which queueDepthForNodeType infers from its type name, so a
// slow audio consumer backs up quickly (small,
// latency-sensitive buffer) while a bursty text/token producer gets more
// slack.
type edge struct {
	from, to string
	ch       chan *media.Envelope
	seq      int64
}

func newEdge(from, to string, depth int) *edge {
	return &edge{from: from, to: to, ch: make(chan *media.Envelope, depth)}
}

// queueDepthFor picks the default bounded depth for an edge carrying
// payloads of the given kind: audio and text get their own depths, every
// other kind gets the generic default.
func queueDepthFor(kind media.Kind) int {
	switch kind {
	case media.KindAudio:
		return defaultAudioQueueDepth
	case media.KindText:
		return defaultTextQueueDepth
	default:
		return defaultQueueDepth
	}
}

// nextSeq returns the next strictly-increasing sequence number for this
// edge. Sequence numbers are scoped per (session, edge) per the envelope
// contract, never globally across the session.
func (e *edge) nextSeq() int64 {
	return atomic.AddInt64(&e.seq, 1)
}

// send enqueues env, blocking until there is room or ctx is done. This is
// the bounded-queue backpressure point: a downstream node that falls behind
// stalls its upstream rather than the queue growing without limit.
func (e *edge) send(ctx context.Context, env *media.Envelope) error {
	select {
	case e.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv returns the next envelope, or ok=false if the edge was closed with
// nothing left buffered, or if ctx ended first.
func (e *edge) recv(ctx context.Context) (env *media.Envelope, ok bool) {
	select {
	case env, ok = <-e.ch:
		return env, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (e *edge) close() {
	close(e.ch)
}

// depth returns the number of envelopes currently buffered on this edge,
// sampled for the edge-queue-depth gauge.
func (e *edge) depth() int {
	return len(e.ch)
}
