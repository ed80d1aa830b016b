// Package container wraps the subprocess executor's protocol inside an
// OS-level container with security hardening, for nodes that need
// dependency isolation beyond a bare subprocess.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/ipc"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
)

const (
	readyTimeout         = 10 * time.Second
	defaultShutdownGrace = 10 * time.Second
)

// Factory registers one manifest node type as a container-hosted worker:
// every node instance of this type gets its own container started from
// Spec.Image against the shared Docker client Cli. ShutdownGrace defaults
// to 10s when left zero.
type Factory struct {
	Cli           *client.Client
	Type          string
	Spec          Spec
	ShutdownGrace time.Duration
	Caps          registry.CapabilityDescriptor
}

func (f Factory) TypeName() string { return f.Type }

func (f Factory) Capabilities() registry.CapabilityDescriptor {
	caps := f.Caps
	caps.SupportsContainer = true
	return caps
}

func (f Factory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	grace := f.ShutdownGrace
	if grace == 0 {
		grace = defaultShutdownGrace
	}
	return executor.GraceAdapter{Handle: New(f.Cli, sessionID, nodeID, f.Spec), Grace: grace}, nil
}

// ResourceLimits bounds what a node's container may consume.
type ResourceLimits struct {
	MemoryBytes int64
	CPUCores    int
	GPUDevices  []string
}

// Spec describes the pre-built image and command a node runs inside its
// container. Image building is out of scope; the executor only consumes an
// already-built tag.
type Spec struct {
	Image   string
	Cmd     []string
	Limits  ResourceLimits
}

// Handle runs a node inside a locked-down container, talking to it over the
// same shared-memory IPC substrate the subprocess executor uses — only the
// scratch directory and (when GPU devices are requested) device nodes are
// mounted into the container, nothing else of the host filesystem.
type Handle struct {
	sessionID, nodeID string
	spec              Spec
	cli               *client.Client

	containerID string
	pub         *ipc.Publisher
	sub         *ipc.Subscriber
	control     *ipc.ControlChannel

	cancelled chan struct{}
}

// New returns an unstarted container handle. cli is a caller-owned Docker
// client (one per process, shared across nodes).
func New(cli *client.Client, sessionID, nodeID string, spec Spec) *Handle {
	return &Handle{cli: cli, sessionID: sessionID, nodeID: nodeID, spec: spec, cancelled: make(chan struct{})}
}

func (h *Handle) Initialize(ctx context.Context, params []byte) error {
	inputName := ipc.DataChannelName(h.sessionID, h.nodeID, false)
	outputName := ipc.DataChannelName(h.sessionID, h.nodeID, true)

	pub, err := ipc.NewPublisher(inputName)
	if err != nil {
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.pub = pub
	h.control = ipc.NewControlChannel(h.sessionID, h.nodeID)

	cfg := &container.Config{
		Image: h.spec.Image,
		Cmd:   h.spec.Cmd,
		Env: []string{
			"MEDIACORE_INPUT_CHANNEL=" + inputName,
			"MEDIACORE_OUTPUT_CHANNEL=" + outputName,
			"MEDIACORE_SESSION_ID=" + h.sessionID,
			"MEDIACORE_NODE_ID=" + h.nodeID,
		},
		User: "65534:65534", // nobody:nobody — never run node workers as root
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: ipc.ScratchDir, Target: ipc.ScratchDir},
			{Type: mount.TypeTmpfs, Target: "/tmp"},
		},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		AutoRemove:     true,
		Resources: container.Resources{
			Memory:   h.spec.Limits.MemoryBytes,
			NanoCPUs: int64(h.spec.Limits.CPUCores) * 1e9,
		},
	}
	for _, dev := range h.spec.Limits.GPUDevices {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{Type: mount.TypeBind, Source: dev, Target: dev})
	}

	resp, err := h.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		pub.Close()
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: fmt.Sprintf("create container: %v", err), NodeID: h.nodeID, Cause: err}
	}
	h.containerID = resp.ID

	if err := h.cli.ContainerStart(ctx, h.containerID, container.StartOptions{}); err != nil {
		pub.Close()
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: fmt.Sprintf("start container: %v", err), NodeID: h.nodeID, Cause: err}
	}

	outputPub, err := ipc.NewPublisher(outputName)
	if err != nil {
		return &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: h.nodeID, Cause: err}
	}
	h.sub = outputPub.Subscribe(32)

	if err := h.control.WaitReady(readyTimeout); err != nil {
		_ = h.terminate(ctx)
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
	timeout := int(grace.Seconds())
	if err := h.cli.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		_ = h.terminate(ctx)
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

func (h *Handle) terminate(ctx context.Context) error {
	return h.cli.ContainerKill(ctx, h.containerID, "SIGKILL")
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
