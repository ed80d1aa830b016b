package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandle struct{}

func (stubHandle) Initialize(context.Context, []byte) error { return nil }
func (stubHandle) Process(context.Context, media.Buffer) (<-chan media.Buffer, <-chan error, error) {
	ch := make(chan media.Buffer)
	close(ch)
	errCh := make(chan error)
	close(errCh)
	return ch, errCh, nil
}
func (stubHandle) Shutdown(context.Context) error    { return nil }
func (stubHandle) Cancel()                           {}
func (stubHandle) HeartbeatAge() time.Duration       { return 0 }

type stubFactory struct {
	name string
	caps CapabilityDescriptor
	fail bool
}

func (f stubFactory) TypeName() string                     { return f.name }
func (f stubFactory) Capabilities() CapabilityDescriptor    { return f.caps }
func (f stubFactory) Create(context.Context, string, []byte, string) (ExecutorHandle, error) {
	if f.fail {
		return nil, errors.New("boom")
	}
	return stubHandle{}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubFactory{name: "resample", caps: CapabilityDescriptor{SupportsInProcess: true}}))
	assert.True(t, r.KnownType("resample"))
	assert.False(t, r.KnownType("vad"))
}

func TestDuplicateRegistrationIsError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubFactory{name: "resample"}))
	err := r.Register(stubFactory{name: "resample"})
	require.Error(t, err)
	var merr *media.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, media.ErrValidation, merr.Kind)
}

func TestCreateUnknownType(t *testing.T) {
	r := New()
	_, err := r.Create(context.Background(), "bogus", "node-1", nil, "sess-1")
	require.Error(t, err)
	var merr *media.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, media.ErrUnknownNodeType, merr.Kind)
}

func TestCreateWrapsFactoryFailureAsNodeInitFailed(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubFactory{name: "broken", fail: true}))
	_, err := r.Create(context.Background(), "broken", "node-1", nil, "sess-1")
	require.Error(t, err)
	var merr *media.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, media.ErrNodeInitFailed, merr.Kind)
	assert.Equal(t, "node-1", merr.NodeID)
}

func TestCapabilitiesSatisfiableRejectsMissingGPU(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubFactory{name: "cpu-only", caps: CapabilityDescriptor{SupportsInProcess: true}}))
	assert.False(t, r.CapabilitiesSatisfiable("cpu-only", &manifest.Capabilities{GPU: true}))
	assert.True(t, r.CapabilitiesSatisfiable("cpu-only", nil))
}

type paramsExample struct {
	TargetRate int    `json:"target_rate"`
	Quality    string `json:"quality,omitempty"`
}

func TestGenerateParamSchema(t *testing.T) {
	schema := GenerateParamSchema[paramsExample]()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "target_rate")
	assert.Contains(t, props, "quality")
	required, _ := schema["required"].([]string)
	assert.Contains(t, required, "target_rate")
	assert.NotContains(t, required, "quality")
}
