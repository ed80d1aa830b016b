package container

import (
	"context"
	"testing"
	"time"

	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryDeclaresContainerCapability(t *testing.T) {
	f := Factory{Type: "whisper-asr", Spec: Spec{Image: "mediacore/whisper-asr:latest"}}
	assert.Equal(t, "whisper-asr", f.TypeName())
	assert.True(t, f.Capabilities().SupportsContainer)
}

func TestFactoryCreateAppliesDefaultShutdownGrace(t *testing.T) {
	f := Factory{Type: "whisper-asr", Spec: Spec{Image: "mediacore/whisper-asr:latest"}}
	handle, err := f.Create(context.Background(), "node-1", nil, "sess-1")
	require.NoError(t, err)
	adapted, ok := handle.(executor.GraceAdapter)
	require.True(t, ok)
	assert.Equal(t, defaultShutdownGrace, adapted.Grace)
}

func TestFactoryCreateHonorsExplicitShutdownGrace(t *testing.T) {
	f := Factory{
		Type:          "whisper-asr",
		Spec:          Spec{Image: "mediacore/whisper-asr:latest"},
		ShutdownGrace: 20 * time.Second,
	}
	handle, err := f.Create(context.Background(), "node-1", nil, "sess-1")
	require.NoError(t, err)
	adapted, ok := handle.(executor.GraceAdapter)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, adapted.Grace)
}

func TestFactoryCapabilitiesPreservesDeclaredFields(t *testing.T) {
	f := Factory{
		Type: "whisper-asr",
		Spec: Spec{Image: "mediacore/whisper-asr:latest"},
		Caps: registry.CapabilityDescriptor{RequiresGPU: true, GPUKind: registry.GPUCUDA},
	}
	caps := f.Capabilities()
	assert.True(t, caps.SupportsContainer)
	assert.True(t, caps.RequiresGPU)
	assert.Equal(t, registry.GPUCUDA, caps.GPUKind)
}
