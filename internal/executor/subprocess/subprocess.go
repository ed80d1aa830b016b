// Package subprocess forks a worker process hosting a user-code interpreter
// or native binary and drives it over the IPC substrate rather than byte
// pipes.
package subprocess

import (
	"context"
	"os/exec"
	"time"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/ipc"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
)

const (
	readyTimeout         = 5 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

// Factory registers one manifest node type as a subprocess-hosted worker:
// every node instance of this type launches its own copy of Spec's command,
// talking to it over the IPC substrate exactly as Handle does. ShutdownGrace
// defaults to 5s when left zero.
type Factory struct {
	Type          string
	Spec          Spec
	ShutdownGrace time.Duration
	Caps          registry.CapabilityDescriptor
}

func (f Factory) TypeName() string { return f.Type }

func (f Factory) Capabilities() registry.CapabilityDescriptor {
	caps := f.Caps
	caps.SupportsSubprocess = true
	return caps
}

func (f Factory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	grace := f.ShutdownGrace
	if grace == 0 {
		grace = defaultShutdownGrace
	}
	return executor.GraceAdapter{Handle: New(sessionID, nodeID, f.Spec), Grace: grace}, nil
}

// Spec describes how to launch the worker binary for one node instance.
type Spec struct {
	Command string
	Args    []string
	Env     []string
}

// Handle implements executor.Handle by spawning a worker process and
// communicating with it over a Publisher/Subscriber pair plus a control
// channel.
type Handle struct {
	sessionID, nodeID string
	spec              Spec

	cmd     *exec.Cmd
	pub     *ipc.Publisher
	sub     *ipc.Subscriber
	control *ipc.ControlChannel

	cancelled chan struct{}
}

// New returns an unstarted subprocess handle for one node within one
// session.
func New(sessionID, nodeID string, spec Spec) *Handle {
	return &Handle{sessionID: sessionID, nodeID: nodeID, spec: spec, cancelled: make(chan struct{})}
}

// Initialize spawns the worker, opens the input publisher the worker will
// subscribe to, and blocks on the control channel's Ready handshake per the
// lifecycle in the IPC substrate design: spawn, wait for Ready with bounded
// retry already absorbed into the worker's own Dial, serve process calls.
func (h *Handle) Initialize(ctx context.Context, params []byte) error {
	inputName := ipc.DataChannelName(h.sessionID, h.nodeID, false)
	outputName := ipc.DataChannelName(h.sessionID, h.nodeID, true)

	pub, err := ipc.NewPublisher(inputName)
	if err != nil {
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.pub = pub
	h.control = ipc.NewControlChannel(h.sessionID, h.nodeID)

	cmd := exec.CommandContext(ctx, h.spec.Command, h.spec.Args...)
	cmd.Env = append(cmd.Env, h.spec.Env...)
	cmd.Env = append(cmd.Env,
		"MEDIACORE_INPUT_CHANNEL="+inputName,
		"MEDIACORE_OUTPUT_CHANNEL="+outputName,
		"MEDIACORE_SESSION_ID="+h.sessionID,
		"MEDIACORE_NODE_ID="+h.nodeID,
	)
	if err := cmd.Start(); err != nil {
		pub.Close()
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: "spawn worker: " + err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.cmd = cmd

	outputPub, err := ipc.NewPublisher(outputName)
	if err != nil {
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.sub = outputPub.Subscribe(32)

	if err := h.control.WaitReady(readyTimeout); err != nil {
		_ = h.terminate()
		return err
	}
	return nil
}

func (h *Handle) Process(ctx context.Context, in media.Buffer) (<-chan media.Buffer, <-chan error, error) {
	if err := h.pub.Publish(&media.Envelope{Payload: in}); err != nil {
		return nil, nil, &media.Error{Kind: media.ErrNodeExecution, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}

	out := make(chan media.Buffer, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		env, err := h.sub.Recv(h.cancelled)
		if err != nil {
			select {
			case <-h.cancelled:
				errCh <- media.ErrIsCancelled
			default:
				errCh <- &media.Error{Kind: media.ErrNodeExecution, Message: err.Error(), NodeID: h.nodeID, Cause: err}
			}
			close(errCh)
			return
		}
		select {
		case out <- env.Payload:
		case <-ctx.Done():
			errCh <- &media.Error{Kind: media.ErrCancelled, Message: "context cancelled awaiting worker output", NodeID: h.nodeID}
		}
		close(errCh)
	}()
	return out, errCh, nil
}

func (h *Handle) Shutdown(ctx context.Context, grace time.Duration) error {
	if h.control != nil {
		_ = h.control.Publish(&media.Control{Kind: media.ControlShutdown, GraceMillis: grace.Milliseconds()})
	}
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(grace):
		_ = h.terminate()
	}
	if h.pub != nil {
		h.pub.Close()
	}
	ipc.Remove(ipc.DataChannelName(h.sessionID, h.nodeID, false))
	ipc.Remove(ipc.DataChannelName(h.sessionID, h.nodeID, true))
	return nil
}

func (h *Handle) Cancel() {
	if h.control != nil {
		_ = h.control.Publish(&media.Control{Kind: media.ControlCancel})
	}
	select {
	case <-h.cancelled:
	default:
		close(h.cancelled)
	}
}

// HeartbeatAge reports how long it has been since the worker last published
// a Heartbeat frame on its control channel, letting the router's crash
// watchdog notice a worker that has stopped responding without having
// exited outright.
func (h *Handle) HeartbeatAge() time.Duration {
	if h.control == nil {
		return 0
	}
	return h.control.HeartbeatAge()
}

func (h *Handle) terminate() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
