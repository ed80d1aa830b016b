// Package remote implements the remote executor variant: a node whose
// process calls are forwarded to another runtime instance over a
// StreamSession, guarded by a circuit breaker.
package remote

import (
	"context"
	"time"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/transport"
)

const (
	breakerFailureThreshold = 5
	breakerWindow           = 30 * time.Second
	breakerCooldown         = 10 * time.Second

	defaultShutdownGrace = 5 * time.Second
)

// Handle forwards Process calls to a remote runtime instance's StreamSession
// for a single node. One Handle owns one StreamSession for the node's
// lifetime.
type Handle struct {
	nodeID   string
	t        transport.PipelineTransport
	manifest *manifest.Manifest

	session transport.StreamSession
	breaker *executor.CircuitBreaker
}

// New returns a remote executor handle that will open a stream against t
// for the single-node manifest m describes (the remote instance only needs
// to know about the one node being forwarded to it).
func New(t transport.PipelineTransport, m *manifest.Manifest, nodeID string) *Handle {
	return &Handle{
		nodeID:   nodeID,
		t:        t,
		manifest: m,
		breaker:  executor.NewCircuitBreaker(breakerFailureThreshold, breakerWindow, breakerCooldown),
	}
}

func (h *Handle) Initialize(ctx context.Context, params []byte) error {
	session, err := h.t.Stream(ctx, h.manifest)
	if err != nil {
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.session = session
	return nil
}

func (h *Handle) Process(ctx context.Context, in media.Buffer) (<-chan media.Buffer, <-chan error, error) {
	if err := h.breaker.Allow(); err != nil {
		return nil, nil, err
	}

	if err := h.session.SendInput(ctx, &media.Envelope{Payload: in}); err != nil {
		h.breaker.RecordFailure()
		return nil, nil, &media.Error{Kind: media.ErrNodeExecution, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}

	out := make(chan media.Buffer, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		env, err := h.session.RecvOutput(ctx)
		if err != nil {
			h.breaker.RecordFailure()
			if ctx.Err() != nil {
				errCh <- media.ErrIsCancelled
			} else {
				errCh <- &media.Error{Kind: media.ErrNodeExecution, Message: err.Error(), NodeID: h.nodeID, Cause: err}
			}
			close(errCh)
			return
		}
		if env == nil {
			close(errCh)
			return
		}
		h.breaker.RecordSuccess()
		select {
		case out <- env.Payload:
		case <-ctx.Done():
			errCh <- &media.Error{Kind: media.ErrCancelled, Message: "context cancelled awaiting remote output", NodeID: h.nodeID}
		}
		close(errCh)
	}()
	return out, errCh, nil
}

func (h *Handle) Shutdown(ctx context.Context, grace time.Duration) error {
	if h.session == nil {
		return nil
	}
	return h.session.Close()
}

func (h *Handle) Cancel() {
	if h.session != nil {
		_ = h.session.Close()
	}
}

// HeartbeatAge always reports 0: a remote node's liveness is already
// tracked by its circuit breaker rather than a control-channel heartbeat.
func (h *Handle) HeartbeatAge() time.Duration { return 0 }

// Factory registers one manifest node type as forwarded to another runtime
// instance over Transport: every node instance of this type gets a
// single-node manifest built on the fly and streamed to the remote side,
// which only ever needs to know about the one node being forwarded to it.
type Factory struct {
	Type      string
	Transport transport.PipelineTransport
	Caps      registry.CapabilityDescriptor
}

func (f Factory) TypeName() string { return f.Type }

func (f Factory) Capabilities() registry.CapabilityDescriptor {
	return f.Caps
}

func (f Factory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: sessionID + ":" + nodeID},
		Nodes:    []manifest.Node{{ID: nodeID, NodeType: f.Type, Params: params}},
	}
	return executor.GraceAdapter{Handle: New(f.Transport, m, nodeID), Grace: defaultShutdownGrace}, nil
}
