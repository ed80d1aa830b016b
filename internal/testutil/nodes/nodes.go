// Package nodes provides in-process node fixtures — pass-through, a toy
// resampler, and a toy voice-activity classifier — used only by tests to
// exercise the router and executor layers without a real media pipeline.
// Only test files import this package; no non-test code under cmd/ or
// internal/ does.
package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/executor/native"
	"github.com/mediacore/pipelinecore/internal/ipc"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
)

const defaultShutdownGrace = 2 * time.Second

// nativeAdapter applies executor.GraceAdapter's fixed-grace narrowing for
// native test fixtures, which close instantly regardless of grace.
func nativeAdapter(h *native.Handle) registry.ExecutorHandle {
	return executor.GraceAdapter{Handle: h, Grace: defaultShutdownGrace}
}

// PassThroughFactory registers a node type that emits every input buffer
// unchanged, for exercising fan-in/fan-out wiring without any real
// transformation.
type PassThroughFactory struct{ Type string }

func (f PassThroughFactory) TypeName() string { return f.Type }

func (f PassThroughFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f PassThroughFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	return nativeAdapter(native.New(&passThroughProcessor{})), nil
}

type passThroughProcessor struct{}

func (passThroughProcessor) Init(ctx context.Context, params []byte) error { return nil }

func (passThroughProcessor) Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error {
	select {
	case out <- in:
	case <-ctx.Done():
	}
	return nil
}

func (passThroughProcessor) Close() error { return nil }

// ResampleParams configures the resample fixture's target sample rate.
type ResampleParams struct {
	TargetRate int `json:"target_rate"`
}

// ResampleFactory registers a node type that rewrites an audio buffer's
// declared sample rate without touching the underlying bytes — enough to
// exercise the placement/capability machinery for an "audio-shaped" node
// type without a real resampling DSP implementation.
type ResampleFactory struct{ Type string }

func (f ResampleFactory) TypeName() string { return f.Type }

func (f ResampleFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f ResampleFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	targetRate := 16000
	var p ResampleParams
	if len(params) > 0 && json.Unmarshal(params, &p) == nil && p.TargetRate > 0 {
		targetRate = p.TargetRate
	}
	return nativeAdapter(native.New(&resampleProcessor{targetRate: targetRate})), nil
}

type resampleProcessor struct{ targetRate int }

func (p *resampleProcessor) Init(ctx context.Context, params []byte) error { return nil }

func (p *resampleProcessor) Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error {
	if in.Kind == media.KindAudio && in.Audio != nil {
		resampled := *in.Audio
		resampled.SampleRate = p.targetRate
		in = media.Buffer{Kind: media.KindAudio, Audio: &resampled}
	}
	select {
	case out <- in:
	case <-ctx.Done():
	}
	return nil
}

func (p *resampleProcessor) Close() error { return nil }

// VADFactory registers a node type that classifies an audio buffer as
// speech or silence and emits a JSON buffer {"speech": bool} carrying the verdict,
// standing in for a real voice-activity model in tests.
type VADFactory struct{ Type string }

func (f VADFactory) TypeName() string { return f.Type }

func (f VADFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f VADFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	return nativeAdapter(native.New(&vadProcessor{})), nil
}

type vadProcessor struct{}

func (vadProcessor) Init(ctx context.Context, params []byte) error { return nil }

func (vadProcessor) Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error {
	speech := in.Kind == media.KindAudio && in.Audio != nil && in.Audio.NumSamples > 0
	result := media.Buffer{Kind: media.KindJSON, JSON: map[string]any{"speech": speech}}
	select {
	case out <- result:
	case <-ctx.Done():
	}
	return nil
}

func (vadProcessor) Close() error { return nil }

// SlowFactory registers a node type that sleeps for Delay before emitting
// its input unchanged, for exercising per-node process-timeout enforcement.
// A Process call cancelled mid-sleep emits nothing.
type SlowFactory struct {
	Type  string
	Delay time.Duration
}

func (f SlowFactory) TypeName() string { return f.Type }

func (f SlowFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f SlowFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	return nativeAdapter(native.New(&slowProcessor{delay: f.Delay})), nil
}

type slowProcessor struct{ delay time.Duration }

func (slowProcessor) Init(ctx context.Context, params []byte) error { return nil }

func (p *slowProcessor) Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out <- in:
	case <-ctx.Done():
	}
	return nil
}

func (slowProcessor) Close() error { return nil }

// FailingFactory registers a node type whose Process call always fails with
// Err, for exercising the router driver's critical/non-critical failure
// paths and the native executor's async error-channel plumbing (the
// underlying native.Handle always runs Processor.Process in a goroutine, so
// this failure surfaces on Handle.Process's error channel rather than its
// synchronous return).
type FailingFactory struct {
	Type string
	Err  error
}

func (f FailingFactory) TypeName() string { return f.Type }

func (f FailingFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f FailingFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	return nativeAdapter(native.New(&failingProcessor{err: f.Err})), nil
}

type failingProcessor struct{ err error }

func (p *failingProcessor) Init(ctx context.Context, params []byte) error { return nil }

func (p *failingProcessor) Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error {
	return p.err
}

func (p *failingProcessor) Close() error { return nil }

// CrashingWorkerFactory registers a node type that stands in for a
// subprocess/container worker that publishes exactly one heartbeat — as if
// it had just completed its Ready handshake — and then goes silent for
// good, for exercising the router's heartbeat crash watchdog without the
// weight of a real child process. Process itself behaves like a
// PassThrough node; only HeartbeatAge reflects the simulated crash.
type CrashingWorkerFactory struct{ Type string }

func (f CrashingWorkerFactory) TypeName() string { return f.Type }

func (f CrashingWorkerFactory) Capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{SupportsInProcess: true}
}

func (f CrashingWorkerFactory) Create(ctx context.Context, nodeID string, params []byte, sessionID string) (registry.ExecutorHandle, error) {
	control := ipc.NewControlChannel(sessionID, nodeID)
	if err := control.Publish(&media.Control{Kind: media.ControlHeartbeat}); err != nil {
		return nil, err
	}
	h := crashingWorkerHandle{Handle: native.New(&passThroughProcessor{}), control: control}
	return executor.GraceAdapter{Handle: h, Grace: defaultShutdownGrace}, nil
}

// crashingWorkerHandle delegates every executor.Handle method to an embedded
// native.Handle except HeartbeatAge, which it reports from a real
// ipc.ControlChannel instead — so the watchdog exercises the same
// HeartbeatAge path a live subprocess/container node would.
type crashingWorkerHandle struct {
	*native.Handle
	control *ipc.ControlChannel
}

func (h crashingWorkerHandle) HeartbeatAge() time.Duration { return h.control.HeartbeatAge() }
