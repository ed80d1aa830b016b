package remote

import (
	"context"
	"testing"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct{ id string }

func (s *stubSession) SessionID() string { return s.id }
func (s *stubSession) SendInput(ctx context.Context, env *media.Envelope) error { return nil }
func (s *stubSession) RecvOutput(ctx context.Context) (*media.Envelope, error)  { return nil, nil }
func (s *stubSession) Close() error                                            { return nil }
func (s *stubSession) IsActive() bool                                          { return true }

type stubTransport struct {
	name string
	m    *manifest.Manifest
}

func (t *stubTransport) Name() string { return t.name }

func (t *stubTransport) Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error) {
	return nil, nil
}

func (t *stubTransport) Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error) {
	t.m = m
	return &stubSession{id: "remote-sess"}, nil
}

func TestFactoryDeclaresRemoteCapability(t *testing.T) {
	f := Factory{Type: "remote-translate", Transport: &stubTransport{name: "stub"}, Caps: registry.CapabilityDescriptor{}}
	assert.Equal(t, "remote-translate", f.TypeName())
}

func TestFactoryCreateBuildsSingleNodeManifestAndAppliesGrace(t *testing.T) {
	tr := &stubTransport{name: "stub"}
	f := Factory{Type: "remote-translate", Transport: tr}

	handle, err := f.Create(context.Background(), "node-1", []byte(`{"lang":"fr"}`), "sess-1")
	require.NoError(t, err)
	adapted, ok := handle.(executor.GraceAdapter)
	require.True(t, ok)
	assert.Equal(t, defaultShutdownGrace, adapted.Grace)

	require.NoError(t, handle.Initialize(context.Background(), nil))
	require.NotNil(t, tr.m)
	assert.Equal(t, manifest.SupportedVersion, tr.m.Version)
	require.Len(t, tr.m.Nodes, 1)
	assert.Equal(t, "node-1", tr.m.Nodes[0].ID)
	assert.Equal(t, "remote-translate", tr.m.Nodes[0].NodeType)
}
