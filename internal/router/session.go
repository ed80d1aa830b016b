package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/observability"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/speculate"
)

// Session is one realized, running pipeline: every node from the manifest
// has a constructed and initialized executor handle, every connection has a
// bounded edge wired between the right nodes, and one driver goroutine per
// node is pumping data through the graph. Session implements
// transport.StreamSession so any transport can drive it without knowing
// it's talking to the in-process router.
type Session struct {
	id       string
	manifest *manifest.Manifest
	life     *lifecycle

	nodes      map[string]*nodeRuntime
	sourceIDs  []string
	terminalIn chan *media.Envelope
	out        chan *media.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	termOnce  sync.Once

	// onClose, if set, runs once as the last step of Close — the admission
	// slot release hooked in by the Router that realized this session.
	onClose func()
}

const (
	// defaultHeartbeatCheckInterval is how often the crash watchdog samples
	// every node's HeartbeatAge when Config.HeartbeatCheckInterval is unset.
	defaultHeartbeatCheckInterval = time.Second
	// defaultHeartbeatGrace is how long a node may go without a heartbeat
	// before the watchdog treats it as crashed, when Config.HeartbeatGrace
	// is unset.
	defaultHeartbeatGrace = 10 * time.Second
)

// realize builds a Session from a validated manifest: it resolves each
// node's placement, constructs and initializes its executor handle
// (concurrently, waiting for every one to be ready before any data flows),
// wires bounded edges for every connection, and starts one driver goroutine
// per node. Initialization failure on any node tears down whatever was
// already started and returns the failing node's error.
func realize(ctx context.Context, reg *registry.Registry, m *manifest.Manifest, nodeTimeout, sessionTimeout, nodeProcessTimeout, heartbeatInterval, heartbeatGrace time.Duration, onClose func()) (*Session, error) {
	var sessCtx context.Context
	var cancel context.CancelFunc
	if sessionTimeout > 0 {
		sessCtx, cancel = context.WithTimeout(ctx, sessionTimeout)
	} else {
		sessCtx, cancel = context.WithCancel(ctx)
	}
	s := &Session{
		id:         uuid.NewString(),
		manifest:   m,
		life:       newLifecycle(),
		nodes:      make(map[string]*nodeRuntime, len(m.Nodes)),
		terminalIn: make(chan *media.Envelope, defaultQueueDepth),
		ctx:        sessCtx,
		cancel:     cancel,
		onClose:    onClose,
	}
	s.out = s.terminalIn

	if err := s.constructNodes(sessCtx, reg, nodeTimeout, nodeProcessTimeout); err != nil {
		cancel()
		if onClose != nil {
			onClose()
		}
		return nil, err
	}
	s.wireEdges()
	s.start()
	s.life.transitionTo(StateActive)
	observability.RecordSessionStart()
	observability.EmitSessionCreated(ctx, s.id, m.Metadata.Name, len(m.Nodes))
	if sessionTimeout > 0 {
		go s.watchTimeout()
	}
	go s.watchHeartbeats(heartbeatInterval, heartbeatGrace)
	return s, nil
}

// watchTimeout closes the session with ReasonTimeout if its context ends
// because the wall-clock deadline elapsed, rather than because of an
// explicit Cancel/Close. It is a no-op if the session is closed for any
// other reason first, since life.close is idempotent.
func (s *Session) watchTimeout() {
	<-s.ctx.Done()
	if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		s.life.close(ReasonTimeout, &media.Error{Kind: media.ErrTimeout, Message: "session exceeded its wall-clock timeout"})
		_ = s.Close()
	}
}

// watchHeartbeats is the crash-detector side of the failure model: a
// subprocess/container worker proves liveness by publishing Heartbeat
// frames on its control channel, and a worker that crashes (or hangs) stops
// doing so. It polls every node's HeartbeatAge every interval and reports a
// node as failed once that age exceeds grace, so a silent worker is caught
// within interval+grace of its last heartbeat. Native and remote
// nodes always report a HeartbeatAge of zero (they have no independent
// liveness signal), so they never trip this watchdog; their failures
// surface through Process's error channel instead.
func (s *Session) watchHeartbeats(interval, grace time.Duration) {
	if interval <= 0 {
		interval = defaultHeartbeatCheckInterval
	}
	if grace <= 0 {
		grace = defaultHeartbeatGrace
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for id, nr := range s.nodes {
				if nr.handle.HeartbeatAge() <= grace {
					continue
				}
				if !nr.tripWatchdog() {
					continue
				}
				err := &media.Error{Kind: media.ErrNodeExecution, Message: "worker exited", NodeID: id}
				nr.failFromWatchdog(err, s.onCriticalFailure)
			}
		}
	}
}

func (s *Session) constructNodes(ctx context.Context, reg *registry.Registry, nodeTimeout, nodeProcessTimeout time.Duration) error {
	type result struct {
		id  string
		nr  *nodeRuntime
		err error
	}
	results := make(chan result, len(s.manifest.Nodes))

	for _, n := range s.manifest.Nodes {
		n := n
		go func() {
			desc, _ := reg.Descriptor(n.NodeType)
			variant, err := resolvePlacement(n, desc)
			if err != nil {
				results <- result{id: n.ID, err: err}
				return
			}
			handle, err := reg.Create(ctx, n.NodeType, n.ID, n.Params, s.id)
			if err != nil {
				results <- result{id: n.ID, err: err}
				return
			}
			initCtx := ctx
			var cancelInit context.CancelFunc
			if nodeTimeout > 0 {
				initCtx, cancelInit = context.WithTimeout(ctx, nodeTimeout)
				defer cancelInit()
			}
			if err := handle.Initialize(initCtx, n.Params); err != nil {
				results <- result{id: n.ID, err: err}
				return
			}
			nr := &nodeRuntime{id: n.ID, sessionID: s.id, node: n, variant: variant, handle: handle, processTimeout: nodeProcessTimeout}
			if n.Speculative {
				vadHandle, vadErr := reg.Create(ctx, n.VADNodeType, n.ID+"-vad", nil, s.id)
				if vadErr != nil {
					_ = handle.Shutdown(context.Background())
					results <- result{id: n.ID, err: vadErr}
					return
				}
				if err := vadHandle.Initialize(initCtx, nil); err != nil {
					_ = handle.Shutdown(context.Background())
					_ = vadHandle.Shutdown(context.Background())
					results <- result{id: n.ID, err: err}
					return
				}
				nr.vadHandle = vadHandle
				nr.speculator = speculate.New(s.id+":"+n.ID, handleClassifier{handle: vadHandle}, speculate.DefaultConfig())
			}
			results <- result{id: n.ID, nr: nr}
		}()
	}

	var firstErr error
	built := make(map[string]*nodeRuntime, len(s.manifest.Nodes))
	for range s.manifest.Nodes {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if r.nr != nil {
			built[r.id] = r.nr
		}
	}
	if firstErr != nil {
		for _, nr := range built {
			_ = nr.handle.Shutdown(context.Background())
			if nr.vadHandle != nil {
				_ = nr.vadHandle.Shutdown(context.Background())
			}
		}
		return firstErr
	}
	s.nodes = built
	return nil
}

// wireEdges allocates one bounded edge per manifest connection and attaches
// it to both endpoints' inbound/outbound slices, then identifies source
// nodes (no inbound connections) and terminal nodes (no outbound
// connections) to wire to the session's external entry/exit points.
func (s *Session) wireEdges() {
	hasInbound := make(map[string]bool, len(s.nodes))
	hasOutbound := make(map[string]bool, len(s.nodes))

	for _, c := range s.manifest.Connections {
		from, to := s.nodes[c.From], s.nodes[c.To]
		if from == nil || to == nil {
			continue
		}
		depth := queueDepthForNodeType(from.node.NodeType)
		e := newEdge(c.From, c.To, depth)
		from.outbound = append(from.outbound, e)
		to.inbound = append(to.inbound, e)
		hasInbound[c.To] = true
		hasOutbound[c.From] = true
	}

	for id, nr := range s.nodes {
		if !hasInbound[id] {
			nr.sourceIn = make(chan *media.Envelope, defaultQueueDepth)
			s.sourceIDs = append(s.sourceIDs, id)
		}
		if !hasOutbound[id] {
			nr.terminal = s.terminalIn
			nr.closeTerm = func() { s.termOnce.Do(func() { close(s.terminalIn) }) }
		}
	}
}

// queueDepthForNodeType infers a payload-kind-appropriate default queue
// depth from the producing node's declared type name, since the manifest
// does not separately declare a node's output media kind. Audio- and
// text-named node types get their spec-default depths; everything else
// gets the generic default.
func queueDepthForNodeType(nodeType string) int {
	lower := strings.ToLower(nodeType)
	switch {
	case strings.Contains(lower, "audio"):
		return queueDepthFor(media.KindAudio)
	case strings.Contains(lower, "text"), strings.Contains(lower, "token"), strings.Contains(lower, "asr"), strings.Contains(lower, "llm"):
		return queueDepthFor(media.KindText)
	default:
		return queueDepthFor(media.KindBinary)
	}
}

func (s *Session) start() {
	for _, nr := range s.nodes {
		nr := nr
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			nr.driverLoop(s.ctx, s.onCriticalFailure)
		}()
	}
}

// onCriticalFailure tears the whole session down when a node marked
// critical fails, closing it with ReasonError rather than letting the rest
// of the graph run with a silently missing critical stage.
func (s *Session) onCriticalFailure(nodeID string, err error) {
	s.life.close(ReasonError, fmt.Errorf("critical node %s: %w", nodeID, err))
	s.cancel()
}

// SessionID implements transport.StreamSession.
func (s *Session) SessionID() string { return s.id }

// SendInput implements transport.StreamSession: it broadcasts env to every
// source node's entry point. A session with no declared source nodes (every
// node has an inbound connection) rejects input — callers are expected to
// have already run the manifest through manifest.Validate, which rejects a
// closed loop with no external entry; this is the defensive boundary for
// callers that realize a session directly without going through Parse.
func (s *Session) SendInput(ctx context.Context, env *media.Envelope) error {
	if !s.life.acceptsInput() {
		return &media.Error{Kind: media.ErrValidation, Message: "session is not accepting input"}
	}
	if len(s.sourceIDs) == 0 {
		return &media.Error{Kind: media.ErrValidation, Message: "manifest declares no source node"}
	}
	for _, id := range s.sourceIDs {
		nr := s.nodes[id]
		select {
		case nr.sourceIn <- env.Clone():
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return &media.Error{Kind: media.ErrCancelled, Message: "session closed"}
		}
	}
	return nil
}

// RecvOutput implements transport.StreamSession: it returns the next
// envelope any terminal node produced, or (nil, nil) once every driver has
// exited and the shared output channel is drained and closed.
func (s *Session) RecvOutput(ctx context.Context) (*media.Envelope, error) {
	select {
	case env, ok := <-s.out:
		if !ok {
			return nil, nil
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsActive implements transport.StreamSession.
func (s *Session) IsActive() bool {
	return s.life.get() == StateActive
}

// Close implements transport.StreamSession: it moves the session to
// Draining, cancels the session context at once, waits for all driver
// goroutines to exit, and cancels and shuts down every executor handle. It
// does not wait for in-flight Process calls or envelopes queued on edges to
// reach the output first. Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.life.transitionTo(StateDraining)
		s.cancel()
		s.wg.Wait()
		for _, nr := range s.nodes {
			nr.handle.Cancel()
			_ = nr.handle.Shutdown(context.Background())
			if nr.vadHandle != nil {
				nr.vadHandle.Cancel()
				_ = nr.vadHandle.Shutdown(context.Background())
			}
		}
		_, reason, closeErr := s.life.snapshot()
		if reason == "" {
			reason = ReasonOK
		}
		s.life.close(reason, closeErr)
		err = closeErr

		duration := s.life.duration()
		observability.RecordSessionClose(string(reason), duration)
		observability.EmitSessionClosed(context.Background(), s.id, string(reason), duration, closeErr)
		observability.DeleteSessionEdgeMetrics(s.id, s.edgeLabelPairs())

		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

// edgeLabelPairs returns every (from, to) pair this session wired an edge
// for, used to clear that session's per-edge metric series on close.
func (s *Session) edgeLabelPairs() [][2]string {
	pairs := make([][2]string, 0, len(s.manifest.Connections))
	for _, c := range s.manifest.Connections {
		pairs = append(pairs, [2]string{c.From, c.To})
	}
	return pairs
}

// Cancel aborts the session immediately rather than draining. It is
// idempotent and safe to call concurrently with Close.
func (s *Session) Cancel() {
	s.life.close(ReasonCancelled, nil)
	s.cancel()
	_ = s.Close()
}

// NodeSnapshot is one node's diagnostic state at the moment Snapshot was
// taken.
type NodeSnapshot struct {
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
	LastError string `json:"last_error,omitempty"`
}

// EdgeSnapshot is one edge's diagnostic state at the moment Snapshot was
// taken.
type EdgeSnapshot struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Depth int    `json:"depth"`
}

// SessionSnapshot is a read-only, JSON-marshalable view of a session's
// current state, for diagnostics. It is never persisted by this package —
// an embedder's own HTTP handler or CLI decides whether and where to
// serialize one.
type SessionSnapshot struct {
	SessionID string         `json:"session_id"`
	Status    State          `json:"status"`
	Nodes     []NodeSnapshot `json:"nodes"`
	Edges     []EdgeSnapshot `json:"edges"`
}

// Snapshot returns a point-in-time diagnostic view of the session: its
// lifecycle status, every node's type and most recent Process error (if
// any), and every edge's currently buffered depth.
func (s *Session) Snapshot() SessionSnapshot {
	status, _, _ := s.life.snapshot()
	nodes := make([]NodeSnapshot, 0, len(s.nodes))
	var edges []EdgeSnapshot
	for id, nr := range s.nodes {
		nodes = append(nodes, NodeSnapshot{
			NodeID:    id,
			NodeType:  nr.node.NodeType,
			LastError: nr.lastErrorString(),
		})
		for _, e := range nr.outbound {
			edges = append(edges, EdgeSnapshot{From: e.from, To: e.to, Depth: e.depth()})
		}
	}
	return SessionSnapshot{SessionID: s.id, Status: status, Nodes: nodes, Edges: edges}
}
