package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	err := cb.Allow()
	require.Error(t, err)
	var merr *media.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, media.ErrResourceExhausted, merr.Kind)
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, 10*time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Error(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow()) // half-open trial allowed
	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, 10*time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Error(t, cb.Allow())
}

func TestSelectVariantHonorsPin(t *testing.T) {
	v, err := SelectVariant("remote", true, true, true)
	require.NoError(t, err)
	assert.Equal(t, VariantRemote, v)
}

func TestSelectVariantPrefersNative(t *testing.T) {
	v, err := SelectVariant("", true, true, true)
	require.NoError(t, err)
	assert.Equal(t, VariantNative, v)
}

func TestSelectVariantFallsBackToSubprocess(t *testing.T) {
	v, err := SelectVariant("", false, true, true)
	require.NoError(t, err)
	assert.Equal(t, VariantSubprocess, v)
}

func TestSelectVariantRejectsImpossible(t *testing.T) {
	_, err := SelectVariant("", false, false, false)
	require.Error(t, err)
}
