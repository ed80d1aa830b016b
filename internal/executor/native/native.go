// Package native hosts nodes directly in the router's own process: the
// cheapest executor variant, used for pure-compute nodes with no native
// dependency conflicts and no isolation requirement.
package native

import (
	"context"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
)

// Processor is what a native node implementation provides. It is the
// in-process analog of the executor.Handle contract, minus lifecycle
// bookkeeping the Handle wrapper below handles generically.
type Processor interface {
	Init(ctx context.Context, params []byte) error
	Process(ctx context.Context, in media.Buffer, out chan<- media.Buffer) error
	Close() error
}

// Factory function signature registered node types provide to construct a
// fresh Processor per node instance.
type NewProcessor func(nodeID, sessionID string) Processor

// Handle adapts a Processor to executor.Handle. Process calls are
// serialized by the router's driver loop, so Handle itself only needs to
// guard Cancel against concurrent Process.
type Handle struct {
	proc Processor

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// New wraps a Processor as an executor.Handle.
func New(proc Processor) *Handle {
	return &Handle{proc: proc}
}

func (h *Handle) Initialize(ctx context.Context, params []byte) error {
	return h.proc.Init(ctx, params)
}

func (h *Handle) Process(ctx context.Context, in media.Buffer) (<-chan media.Buffer, <-chan error, error) {
	procCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelFn = cancel
	h.mu.Unlock()

	out := make(chan media.Buffer, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer cancel()
		if err := h.proc.Process(procCtx, in, out); err != nil {
			if procCtx.Err() != nil {
				err = media.ErrIsCancelled
			}
			errCh <- err
		}
		close(errCh)
	}()
	return out, errCh, nil
}

func (h *Handle) Shutdown(ctx context.Context, grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- h.proc.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return &media.Error{Kind: media.ErrTimeout, Message: "native executor shutdown exceeded grace period"}
	}
}

func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelFn != nil {
		h.cancelFn()
	}
}

// HeartbeatAge always reports 0: a native node runs in this process, so its
// failure is observed directly through Process's error channel rather than
// through an external liveness signal.
func (h *Handle) HeartbeatAge() time.Duration { return 0 }
