package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/observability"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/speculate"
)

// nodeRuntime is the live state for one manifest node within one realized
// session: its executor handle, its bounded inbound/outbound edges, and the
// bookkeeping the driver task needs to service fan-in/fan-out.
type nodeRuntime struct {
	id        string
	sessionID string
	node      manifest.Node
	variant   executor.Variant
	handle    registry.ExecutorHandle

	// processTimeout bounds each call to handle.Process. Zero disables the
	// timeout.
	processTimeout time.Duration

	inbound  []*edge // empty for a source node, fed by the session's entry point instead
	outbound []*edge // empty for a terminal node, fed into the session's exit point instead

	sourceIn  chan *media.Envelope // non-nil only for source nodes
	terminal  chan *media.Envelope // non-nil only for terminal nodes (the session's shared out channel)
	closeTerm func()               // closes terminal exactly once across every terminal node sharing it
	fanInNext int                  // round-robin cursor across inbound edges

	vadHandle  registry.ExecutorHandle // non-nil only when node.Speculative; shut down alongside handle
	speculator *speculate.Coordinator  // non-nil only when node.Speculative

	errMu           sync.Mutex
	lastErr         error // most recent Process error, if any; surfaced by Session.Snapshot
	watchdogTripped bool  // guards against reporting the same heartbeat-loss failure twice
}

// recordError stores err as this node's most recent failure, for diagnostic
// snapshots. It does not affect control flow — reportFailure's
// critical/non-critical branch already ran by the time this is called.
func (n *nodeRuntime) recordError(err error) {
	n.errMu.Lock()
	n.lastErr = err
	n.errMu.Unlock()
}

// lastErrorString returns the most recent Process error's message, or "" if
// the node has never failed.
func (n *nodeRuntime) lastErrorString() string {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	if n.lastErr == nil {
		return ""
	}
	return n.lastErr.Error()
}

// driverLoop pulls inputs for this node until ctx ends or every inbound
// edge (or the session source, for a source node) closes, driving the
// node's executor handle once per input and fanning each output buffer out
// to every outbound edge (or the session terminal, for a terminal node).
//
// The control sideband for subprocess/container/remote nodes is serviced
// inside those handles' own Process/Cancel implementations, which publish
// Cancel/Shutdown ahead of any pending data frame; this loop's own
// responsibility is just to stop pulling new input as soon as ctx is done,
// which is the session-level half of "control overtakes data."
func (n *nodeRuntime) driverLoop(ctx context.Context, onCriticalFailure func(nodeID string, err error)) {
	for {
		select {
		case <-ctx.Done():
			n.closeOutbound()
			return
		default:
		}

		env, ok := n.nextInput(ctx)
		if !ok {
			n.closeOutbound()
			return
		}

		processCtx := ctx
		cancelProcess := func() {}
		if n.processTimeout > 0 {
			processCtx, cancelProcess = context.WithTimeout(ctx, n.processTimeout)
		}

		start := time.Now()
		outCh, errCh, err := n.handle.Process(processCtx, env.Payload)
		observability.RecordNodeExecution(n.node.NodeType, time.Since(start), err)
		observability.EmitNodeExecution(ctx, n.sessionID, n.id, n.node.NodeType, time.Since(start), err)
		if err != nil {
			cancelProcess()
			n.reportFailure(env, err, onCriticalFailure)
			continue
		}

		edgeSeq := n.edgeSeqSource()
		for buf := range outCh {
			seq := edgeSeq.nextSeq()
			out := &media.Envelope{Payload: buf, Sequence: &seq, Metadata: env.Metadata}
			n.fanOut(ctx, out)
			n.observeSpeculation(ctx, buf)
		}
		// processCtx bounds the handle's async work for this call, which may
		// continue producing to outCh well after Process itself returned;
		// only release the timeout once outCh is fully drained.
		cancelProcess()

		// outCh's close only means the handle is done sending buffers, not
		// that it succeeded — a failure discovered after Process returned
		// (a broken pipe, a Recv error, a Cancel arriving mid-call) surfaces
		// on errCh instead. errCh is always closed no later than outCh, so
		// this never blocks.
		if asyncErr := <-errCh; asyncErr != nil {
			observability.RecordNodeExecution(n.node.NodeType, time.Since(start), asyncErr)
			observability.EmitNodeExecution(ctx, n.sessionID, n.id, n.node.NodeType, time.Since(start), asyncErr)
			n.reportFailure(env, asyncErr, onCriticalFailure)
		}
	}
}

// edgeSeqSource returns an edge to draw sequence numbers from when a node
// has no outbound edges of its own (a terminal node still needs a
// monotonic per-node sequence for its output envelopes).
func (n *nodeRuntime) edgeSeqSource() *edge {
	if len(n.outbound) > 0 {
		return n.outbound[0]
	}
	return &edge{}
}

// nextInput services the next input for this node per its declared fan-in
// mode. Source nodes read directly from the session's external entry
// point instead of from any upstream edge.
func (n *nodeRuntime) nextInput(ctx context.Context) (*media.Envelope, bool) {
	if n.sourceIn != nil {
		select {
		case env, ok := <-n.sourceIn:
			return env, ok
		case <-ctx.Done():
			return nil, false
		}
	}

	if len(n.inbound) == 0 {
		return nil, false
	}

	switch n.node.FanIn {
	case manifest.FanInSynchronizedTuple:
		return n.nextSynchronizedTuple(ctx)
	default:
		return n.nextRoundRobin(ctx)
	}
}

// nextRoundRobin consumes one envelope from the next inbound edge in
// rotation. An edge that closes is dropped from rotation; once every edge
// is closed the node itself is done.
func (n *nodeRuntime) nextRoundRobin(ctx context.Context) (*media.Envelope, bool) {
	for len(n.inbound) > 0 {
		if n.fanInNext >= len(n.inbound) {
			n.fanInNext = 0
		}
		e := n.inbound[n.fanInNext]
		env, ok := e.recv(ctx)
		if !ok {
			n.inbound = append(n.inbound[:n.fanInNext], n.inbound[n.fanInNext+1:]...)
			continue
		}
		n.fanInNext++
		return env, true
	}
	return nil, false
}

// nextSynchronizedTuple waits for one envelope from every inbound edge
// before driving the node once, combining the tuple into a single JSON
// buffer keyed by source node id. If any edge closes before contributing to
// the current tuple, the node is done.
func (n *nodeRuntime) nextSynchronizedTuple(ctx context.Context) (*media.Envelope, bool) {
	tuple := make(map[string]media.Buffer, len(n.inbound))
	var meta map[string]string
	for _, e := range n.inbound {
		env, ok := e.recv(ctx)
		if !ok {
			return nil, false
		}
		tuple[e.from] = env.Payload
		if meta == nil {
			meta = env.Metadata
		}
	}
	return &media.Envelope{
		Payload:  media.Buffer{Kind: media.KindJSON, JSON: tuple},
		Metadata: meta,
	}, true
}

// fanOut delivers out to every outbound edge (cloned per consumer so one
// downstream node's metadata mutation never leaks to a sibling) or, for a
// terminal node, to the session's shared output channel.
func (n *nodeRuntime) fanOut(ctx context.Context, out *media.Envelope) {
	if n.terminal != nil {
		select {
		case n.terminal <- out:
		case <-ctx.Done():
		}
		return
	}
	for _, e := range n.outbound {
		_ = e.send(ctx, out.Clone())
		observability.SetEdgeQueueDepth(n.sessionID, e.from, e.to, e.depth())
	}
}

// observeSpeculation runs the parallel gating classifier on an audio output
// buffer and, if the coordinator just resolved a candidate segment as a
// false positive, fans out a CancelSpeculation control buffer so cancellable
// downstream consumers can drop the now-retracted range. It never blocks or
// delays fanOut, which has already happened by the time this runs.
func (n *nodeRuntime) observeSpeculation(ctx context.Context, buf media.Buffer) {
	if n.speculator == nil || buf.Kind != media.KindAudio || buf.Audio == nil {
		return
	}
	now := time.Now()
	ctrl, err := n.speculator.Observe(ctx, buf.Audio, now)
	observability.SetSpeculationAcceptanceRate(n.sessionID, n.speculator.Health(now))
	if err != nil || ctrl == nil {
		return
	}
	observability.RecordSpeculationRejection(ctrl.Reason)
	observability.EmitSpeculationResolved(ctx, n.sessionID, ctrl.SegmentID, false, ctrl.Reason)
	n.fanOut(ctx, &media.Envelope{Payload: media.Buffer{Kind: media.KindControl, Control: ctrl}})
}

func (n *nodeRuntime) closeOutbound() {
	for _, e := range n.outbound {
		e.close()
	}
	if n.closeTerm != nil {
		n.closeTerm()
	}
}

// reportFailure handles a Process error: a critical node's failure tears
// down the whole session; a non-critical node's failure instead short-
// circuits the node, passing its input straight through to its output
// unchanged (so downstream nodes keep seeing frames) alongside a
// StreamError control buffer carrying the failure detail.
func (n *nodeRuntime) reportFailure(in *media.Envelope, err error, onCriticalFailure func(string, error)) {
	n.recordError(err)
	if n.node.Critical {
		onCriticalFailure(n.id, err)
		return
	}
	passthrough := &media.Envelope{Payload: in.Payload, Sequence: in.Sequence, Metadata: in.Metadata}
	n.fanOut(context.Background(), passthrough)

	ctrl := &media.Control{Kind: media.ControlStreamError, Detail: fmt.Sprintf("node %s: %v", n.id, err)}
	streamErr := &media.Envelope{Payload: media.Buffer{Kind: media.KindControl, Control: ctrl}, Metadata: in.Metadata}
	n.fanOut(context.Background(), streamErr)
}

// tripWatchdog reports whether this is the first time the heartbeat
// watchdog has observed this node as crashed, and marks it tripped if so.
// It prevents the watchdog's periodic sampling from reporting the same
// dead worker once per tick for the rest of the session.
func (n *nodeRuntime) tripWatchdog() bool {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	if n.watchdogTripped {
		return false
	}
	n.watchdogTripped = true
	return true
}

// failFromWatchdog reports a node as failed because its heartbeat went
// stale rather than because a Process call returned an error — there is no
// pending input envelope to short-circuit through, only a worker that has
// gone silent. A critical node's loss still tears the session down; a
// non-critical node's loss still announces itself via StreamError, but with
// no input in hand there is nothing to pass through.
func (n *nodeRuntime) failFromWatchdog(err error, onCriticalFailure func(string, error)) {
	n.recordError(err)
	if n.node.Critical {
		onCriticalFailure(n.id, err)
		return
	}
	ctrl := &media.Control{Kind: media.ControlStreamError, Detail: fmt.Sprintf("node %s: %v", n.id, err)}
	streamErr := &media.Envelope{Payload: media.Buffer{Kind: media.KindControl, Control: ctrl}}
	n.fanOut(context.Background(), streamErr)
}
