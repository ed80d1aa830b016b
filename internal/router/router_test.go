package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediacore/pipelinecore/internal/limits"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/testutil/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioManifest(t *testing.T, fanIn manifest.FanInMode) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
	}
	m.Nodes = append(m.Nodes, manifest.Node{ID: "in", NodeType: "pass"})
	m.Nodes = append(m.Nodes, manifest.Node{ID: "out", NodeType: "pass", FanIn: fanIn})
	m.Connections = append(m.Connections, manifest.Connection{From: "in", To: "out"})
	return m
}

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	_ = reg.Register(nodes.PassThroughFactory{Type: "pass"})
	_ = reg.Register(nodes.ResampleFactory{Type: "resample"})
	_ = reg.Register(nodes.VADFactory{Type: "vad"})
	return reg
}

func audioEnvelope(samples int) *media.Envelope {
	return &media.Envelope{Payload: media.Buffer{
		Kind: media.KindAudio,
		Audio: &media.Audio{
			Bytes:      make([]byte, samples*4),
			SampleRate: 48000,
			Channels:   1,
			Format:     media.SampleFormatF32,
			NumSamples: samples,
		},
	}}
}

func TestExecuteSingleNodePassThrough(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := r.Execute(ctx, m, audioEnvelope(4))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, media.KindAudio, out.Payload.Kind)
	assert.Equal(t, 4, out.Payload.Audio.NumSamples)
}

func TestExecuteTwoNodeChainResamples(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes: []manifest.Node{
			{ID: "in", NodeType: "pass"},
			{ID: "resample", NodeType: "resample"},
		},
		Connections: []manifest.Connection{{From: "in", To: "resample"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := r.Execute(ctx, m, audioEnvelope(8))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 16000, out.Payload.Audio.SampleRate)
}

func TestExecuteEmptyAudioBufferPropagates(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := r.Execute(ctx, m, audioEnvelope(0))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Payload.Empty())
}

func TestStreamSessionSendRecvAndClose(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := audioManifest(t, manifest.FanInRoundRobin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	require.True(t, sess.IsActive())

	require.NoError(t, sess.SendInput(ctx, audioEnvelope(2)))
	out, err := sess.RecvOutput(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.NoError(t, sess.Close())
	assert.False(t, sess.IsActive())
	_, ok := r.Lookup(sess.SessionID())
	assert.True(t, ok, "router only untracks sessions realized through Execute, not Stream")
}

func TestSessionRejectsInputOnManifestWithNoSourceNode(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes: []manifest.Node{
			{ID: "a", NodeType: "pass"},
			{ID: "b", NodeType: "pass"},
		},
		Connections: []manifest.Connection{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	// This manifest is cyclic (and would already be rejected by
	// manifest.Validate before reaching the router); realize itself does
	// not re-run graph validation, so every node ends up with an inbound
	// edge and none is a source. This exercises the defensive boundary
	// inside SendInput rather than a failure in realize.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	err = sess.SendInput(ctx, audioEnvelope(1))
	require.Error(t, err)
	var merr *media.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, media.ErrValidation, merr.Kind)
}

// TestSpeculativeNodeEmitsCancellationOnFalsePositive drives a speculative
// audio node fed with nothing but empty (non-speech) buffers, spaced out
// long enough for their trailing silence to pass the coordinator's 200ms
// minimum, and expects a
// CancelSpeculation control buffer to surface on the node's outbound edge.
func TestSpeculativeNodeEmitsCancellationOnFalsePositive(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes: []manifest.Node{
			{ID: "in", NodeType: "pass", Speculative: true, VADNodeType: "vad"},
			{ID: "out", NodeType: "pass"},
		},
		Connections: []manifest.Connection{{From: "in", To: "out"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	// The vad fixture classifies any empty audio buffer as non-speech, so
	// every chunk here is below threshold from the start. Sending enough of
	// them, spaced 30ms apart in real time (at least 270ms from the first to
	// the last), lets the 200ms minimum trailing silence elapse and resolve
	// the run as a false positive.
	const chunks = 10
	for i := 0; i < chunks; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, sess.SendInput(ctx, audioEnvelope(0)))
	}

	var sawCancel bool
	for i := 0; i < chunks+1 && !sawCancel; i++ {
		out, err := sess.RecvOutput(ctx)
		require.NoError(t, err)
		if out.Payload.Kind == media.KindControl && out.Payload.Control != nil &&
			out.Payload.Control.Kind == media.ControlCancelSpeculation {
			sawCancel = true
			assert.Equal(t, "vad_false_positive", out.Payload.Control.Reason)
		}
	}
	assert.True(t, sawCancel, "expected a CancelSpeculation once enough non-speech chunks passed through")
}

func TestExecuteReleasesAdmissionSlotOnClose(t *testing.T) {
	reg := newTestRegistry()
	limitsCfg := limits.DefaultConfig()
	limitsCfg.MaxConcurrentSessions = 1
	mgr := limits.New(limitsCfg)
	r := New(reg, Config{NodeInitTimeout: time.Second, Limits: mgr})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Execute(ctx, m, audioEnvelope(4))
	require.NoError(t, err)

	// Execute's defer sess.Close() must have released the admission slot,
	// so a second Execute with the same single-session limit still fits.
	_, err = r.Execute(ctx, m, audioEnvelope(4))
	require.NoError(t, err, "admission slot from the first Execute should have been released on session close")
}

func TestStreamRejectedWhenAdmissionExhausted(t *testing.T) {
	reg := newTestRegistry()
	limitsCfg := limits.DefaultConfig()
	limitsCfg.MaxConcurrentSessions = 1
	limitsCfg.MaxPendingRequests = 0
	mgr := limits.New(limitsCfg)
	r := New(reg, Config{NodeInitTimeout: time.Second, Limits: mgr})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	_, err = r.Stream(ctx, m)
	require.Error(t, err, "second Stream should be rejected while the first still holds the only admission slot")
}

func TestSessionClosesWithTimeoutReasonOnSessionDeadline(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second, SessionTimeout: 30 * time.Millisecond})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	streamSess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	sess := streamSess.(*Session)
	defer sess.Close()

	require.Eventually(t, func() bool { return !sess.IsActive() }, time.Second, 5*time.Millisecond,
		"session should close on its own once SessionTimeout elapses")

	_, reason, closeErr := sess.life.snapshot()
	assert.Equal(t, ReasonTimeout, reason)
	var merr *media.Error
	require.ErrorAs(t, closeErr, &merr)
	assert.Equal(t, media.ErrTimeout, merr.Kind)
}

func TestSessionWithoutSessionTimeoutNeverClosesItself(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "pass"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, sess.IsActive(), "a session with no configured SessionTimeout must not self-close")
}

// TestNodeProcessTimeoutCancelsSlowProcess drives a node whose single
// Process call sleeps far longer than the configured NodeProcessTimeout,
// and expects the call to be cancelled well before it would otherwise
// complete — so no output ever surfaces for that input.
func TestNodeProcessTimeoutCancelsSlowProcess(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(nodes.SlowFactory{Type: "slow", Delay: 150 * time.Millisecond}))
	r := New(reg, Config{NodeInitTimeout: time.Second, NodeProcessTimeout: 20 * time.Millisecond})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "slow"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SendInput(ctx, audioEnvelope(1)))

	recvCtx, recvCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer recvCancel()
	out, err := sess.RecvOutput(recvCtx)
	require.Error(t, err, "the process call should have been cancelled at 20ms, long before its 150ms delay or the 300ms receive window elapsed")
	assert.Nil(t, out)
}

func TestResolveTimeoutsFallsBackToLimitsDefaults(t *testing.T) {
	reg := newTestRegistry()
	limitsCfg := limits.DefaultConfig()
	limitsCfg.DefaultSessionTimeout = 7 * time.Second
	limitsCfg.DefaultPerNodeTimeout = 3 * time.Second
	mgr := limits.New(limitsCfg)

	r := New(reg, Config{Limits: mgr})
	sessionTimeout, nodeProcessTimeout := r.resolveTimeouts()
	assert.Equal(t, 7*time.Second, sessionTimeout)
	assert.Equal(t, 3*time.Second, nodeProcessTimeout)

	r2 := New(reg, Config{Limits: mgr, SessionTimeout: time.Second, NodeProcessTimeout: 500 * time.Millisecond})
	sessionTimeout, nodeProcessTimeout = r2.resolveTimeouts()
	assert.Equal(t, time.Second, sessionTimeout, "an explicit Config value overrides the limits manager default")
	assert.Equal(t, 500*time.Millisecond, nodeProcessTimeout)
}

func TestUnknownNodeTypeFailsRealization(t *testing.T) {
	reg := newTestRegistry()
	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "does-not-exist"}},
	}
	_, err := r.Execute(context.Background(), m, audioEnvelope(1))
	require.Error(t, err)
	var merr *media.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, media.ErrUnknownNodeType, merr.Kind)
}

// TestNonCriticalFailureShortCircuitsPassThrough exercises §13's non-critical
// node bypass: a failing non-critical node must forward its input straight
// through to its output unchanged, alongside a StreamError control buffer,
// rather than swallowing the input entirely. The failure itself comes from
// the native executor's async error channel (FailingFactory's processor
// returns its error from inside the goroutine native.Handle.Process spawns),
// exercising that plumbing too.
func TestNonCriticalFailureShortCircuitsPassThrough(t *testing.T) {
	reg := newTestRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.Register(nodes.FailingFactory{Type: "failing", Err: boom}))

	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "failing", Critical: false}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.Stream(ctx, m)
	require.NoError(t, err)
	defer sess.Close()

	in := audioEnvelope(4)
	require.NoError(t, sess.SendInput(ctx, in))

	first, err := sess.RecvOutput(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := sess.RecvOutput(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)

	var passthrough, streamErr *media.Envelope
	for _, env := range []*media.Envelope{first, second} {
		if env.Payload.Kind == media.KindAudio {
			passthrough = env
		} else if env.Payload.Kind == media.KindControl {
			streamErr = env
		}
	}

	require.NotNil(t, passthrough, "a non-critical node's failure must still forward its input unchanged")
	assert.Equal(t, in.Payload.Audio.NumSamples, passthrough.Payload.Audio.NumSamples)

	require.NotNil(t, streamErr)
	require.NotNil(t, streamErr.Payload.Control)
	assert.Equal(t, media.ControlStreamError, streamErr.Payload.Control.Kind)
	assert.Contains(t, streamErr.Payload.Control.Detail, "boom")
}

// TestCriticalFailureTearsDownSession confirms a critical node's failure
// still fails the whole session instead of producing any pass-through
// output, unaffected by the non-critical bypass fix above.
func TestCriticalFailureTearsDownSession(t *testing.T) {
	reg := newTestRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.Register(nodes.FailingFactory{Type: "failing-critical", Err: boom}))

	r := New(reg, Config{NodeInitTimeout: time.Second})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "solo", NodeType: "failing-critical", Critical: true}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := r.Stream(ctx, m)
	require.NoError(t, err)
	sess := stream.(*Session)
	defer sess.Close()

	require.NoError(t, sess.SendInput(ctx, audioEnvelope(4)))

	require.Eventually(t, func() bool {
		return sess.Snapshot().Status == StateClosed
	}, time.Second, 10*time.Millisecond, "a critical node's failure must close the session")

	snap := sess.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Contains(t, snap.Nodes[0].LastError, "boom")
}

// TestHeartbeatWatchdogClosesSessionAfterWorkerGoesSilent exercises the
// crash-detection failure model: a worker that publishes a heartbeat once
// and then never again (as if it exited right after completing its Ready
// handshake) must eventually drive the session to Closed(Error) with a
// NodeExecution failure once its heartbeat loss exceeds interval+grace,
// even though it never actually fails a Process call.
func TestHeartbeatWatchdogClosesSessionAfterWorkerGoesSilent(t *testing.T) {
	reg := newTestRegistry()
	require.NoError(t, reg.Register(nodes.CrashingWorkerFactory{Type: "crashing-worker"}))

	r := New(reg, Config{
		NodeInitTimeout:        time.Second,
		HeartbeatCheckInterval: 10 * time.Millisecond,
		HeartbeatGrace:         30 * time.Millisecond,
	})
	m := &manifest.Manifest{
		Version:  manifest.SupportedVersion,
		Metadata: manifest.Metadata{Name: t.Name()},
		Nodes:    []manifest.Node{{ID: "worker", NodeType: "crashing-worker", Critical: true}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := r.Stream(ctx, m)
	require.NoError(t, err)
	sess := stream.(*Session)
	defer sess.Close()

	require.Eventually(t, func() bool {
		return sess.Snapshot().Status == StateClosed
	}, time.Second, 10*time.Millisecond, "heartbeat loss must eventually close the session")

	snap := sess.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Contains(t, snap.Nodes[0].LastError, "worker exited")
}

// TestHeartbeatWatchdogIgnoresHealthyNativeNode confirms a node that never
// heartbeats at all (native nodes always report a HeartbeatAge of zero)
// never trips the watchdog, so an ordinary session runs to completion
// rather than being falsely killed by heartbeat loss detection.
func TestHeartbeatWatchdogIgnoresHealthyNativeNode(t *testing.T) {
	reg := newTestRegistry()

	r := New(reg, Config{
		NodeInitTimeout:        time.Second,
		HeartbeatCheckInterval: 5 * time.Millisecond,
		HeartbeatGrace:         20 * time.Millisecond,
	})
	m := audioManifest(t, manifest.FanInRoundRobin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := r.Stream(ctx, m)
	require.NoError(t, err)
	sess := stream.(*Session)
	defer sess.Close()

	require.NoError(t, sess.SendInput(ctx, audioEnvelope(4)))
	out, err := sess.RecvOutput(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateActive, sess.Snapshot().Status)
}
