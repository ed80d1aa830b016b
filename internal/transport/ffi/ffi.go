// Package ffi provides the in-process transport: a thin pass-through to a
// Runner living in the same process, with no serialization. It is the
// cheapest transport.
package ffi

import (
	"context"

	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/transport"
)

// Runner is the core-side façade this transport forwards to. The session
// router implements it; ffi never imports the router package directly to
// keep the transport→core dependency direction one-way.
type Runner interface {
	Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error)
	Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error)
}

// Transport is the in-process PipelineTransport implementation.
type Transport struct {
	runner Runner
}

// New returns an ffi transport forwarding to runner.
func New(runner Runner) *Transport {
	return &Transport{runner: runner}
}

func (t *Transport) Name() string { return "ffi" }

func (t *Transport) Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error) {
	return t.runner.Execute(ctx, m, in)
}

func (t *Transport) Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error) {
	return t.runner.Stream(ctx, m)
}
