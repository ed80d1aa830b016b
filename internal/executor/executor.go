// Package executor defines the shared contract all four executor variants
// (native, subprocess, container, remote) implement, plus the circuit
// breaker the remote variant uses.
package executor

import (
	"context"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
)

// Handle is the contract every executor variant implements. initialize must
// complete before process is ever called; a handle's process is invoked
// at-most-once concurrently (the driver task serializes calls to it).
type Handle interface {
	// Initialize performs blocking setup and must complete (or fail) before
	// Process is ever invoked.
	Initialize(ctx context.Context, params []byte) error

	// Process runs one input through the node and streams zero or more
	// output buffers on the returned data channel, which is closed when the
	// node has no more output for this input. Non-streaming nodes close the
	// channel after exactly one send. The returned error channel carries at
	// most one value — a failure that occurred after Process already
	// returned (an async Recv/pipe error, or a Cancel arriving mid-call) —
	// and is always closed no later than the data channel, so a caller that
	// has observed the data channel close can immediately check the error
	// channel without blocking.
	Process(ctx context.Context, in media.Buffer) (<-chan media.Buffer, <-chan error, error)

	// Shutdown attempts a graceful drain within grace, then forces
	// termination.
	Shutdown(ctx context.Context, grace time.Duration) error

	// Cancel aborts an in-flight Process call. The aborted call's output
	// channel is closed with no further sends, and its error channel
	// reports an error of kind media.ErrCancelled.
	Cancel()

	// HeartbeatAge reports how long it has been since this node last proved
	// it is still alive, for the router's crash watchdog. Variants with no
	// independent liveness signal (native, remote) always return 0.
	HeartbeatAge() time.Duration
}

// GraceAdapter narrows any Handle's two-argument Shutdown(ctx, grace) down
// to the single-argument Shutdown(ctx) registry.ExecutorHandle expects,
// applying a fixed grace period fixed once at Factory construction — the
// only daylight between the two contracts.
type GraceAdapter struct {
	Handle
	Grace time.Duration
}

func (a GraceAdapter) Shutdown(ctx context.Context) error {
	return a.Handle.Shutdown(ctx, a.Grace)
}

// Variant identifies which of the four executor kinds hosts a node.
type Variant string

const (
	VariantNative     Variant = "native"
	VariantSubprocess Variant = "subprocess"
	VariantContainer  Variant = "container"
	VariantRemote     Variant = "remote"
)

// SelectVariant applies the spec's placement rule: an explicit pin is
// honored (or rejected if unsupported); otherwise the cheapest capable
// local variant wins, preferring native > subprocess > container. Remote
// is chosen only when pinned.
func SelectVariant(pinned string, supportsInProcess, supportsSubprocess, supportsContainer bool) (Variant, error) {
	switch pinned {
	case "local", "":
		// fall through to auto-selection below
	case "remote":
		return VariantRemote, nil
	case "auto":
		// explicit auto is the same as no pin
	default:
		return "", &media.Error{Kind: media.ErrValidation, Message: "unknown placement hint " + pinned}
	}

	switch {
	case supportsInProcess:
		return VariantNative, nil
	case supportsSubprocess:
		return VariantSubprocess, nil
	case supportsContainer:
		return VariantContainer, nil
	default:
		return "", &media.Error{Kind: media.ErrValidation, Message: "no executor variant satisfies node capabilities"}
	}
}
