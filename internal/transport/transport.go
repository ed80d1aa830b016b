// Package transport defines the pluggable transport abstraction: core code
// never names a concrete transport, only this contract. Concrete
// implementations live in subpackages (ffi, httpjson) and register
// themselves with a Registry.
package transport

import (
	"context"

	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
)

// StreamSession is a bidirectional, transport-opaque streaming handle for
// one realized session.
type StreamSession interface {
	SessionID() string
	SendInput(ctx context.Context, env *media.Envelope) error
	// RecvOutput returns the next output envelope, or (nil, nil) at normal
	// end of stream.
	RecvOutput(ctx context.Context) (*media.Envelope, error)
	Close() error
	IsActive() bool
}

// PipelineTransport is the transport-side plugin surface. Transports
// implement it; the router/runner consumes it without knowing which
// concrete transport is in play.
type PipelineTransport interface {
	Name() string
	Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error)
	Stream(ctx context.Context, m *manifest.Manifest) (StreamSession, error)
}
