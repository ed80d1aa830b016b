package limits

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/observability"
	"golang.org/x/sync/semaphore"
)

// Manager is the process-wide admission gate: a weighted semaphore caps
// concurrent sessions, a second one caps connections, and a pending-request
// counter bounds how many callers may be waiting on either at once. A
// load-shedding flag, set from sampled CPU/memory pressure, short-circuits
// admission entirely while pressure remains high.
type Manager struct {
	cfg Config

	sessionGate *semaphore.Weighted
	connGate    *semaphore.Weighted

	pending      int64 // atomic: callers currently queued on either gate
	shedding     atomic.Bool
	retryAfter   time.Duration // fallback used until the drain EMA has any data

	// drainEMA is an exponential moving average, in nanoseconds, of the
	// interval between successive slot releases — the admission queue's
	// observed drain rate. exhausted() reports its reciprocal sense (the
	// interval itself) as the retry-after hint, on the reasoning that a
	// caller turned away now can expect the next slot to free up in about
	// that long. atomic rather than mutex-guarded since it's updated from
	// every Release call, which can be far hotter than config reads.
	drainEMA    atomic.Int64
	lastRelease atomic.Int64 // unix nanoseconds of the last observed release, or of New before any

	mu          sync.RWMutex
	shuttingDown bool
}

// New returns a Manager enforcing cfg.
func New(cfg Config) *Manager {
	m := &Manager{
		cfg:         cfg,
		sessionGate: semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions)),
		connGate:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
		retryAfter:  time.Second,
	}
	// The first release's interval is measured from construction, so a
	// single release is enough to seed the drain average.
	m.lastRelease.Store(time.Now().UnixNano())
	return m
}

// drainEMAAlpha weights each newly observed release interval against the
// running average.
const drainEMAAlpha = 0.2

// observeRelease records the time between this and the previous slot
// release, folding it into the running drain-rate average. Called from
// every gate release, regardless of which gate.
func (m *Manager) observeRelease() {
	now := time.Now().UnixNano()
	last := m.lastRelease.Swap(now)
	if last == 0 {
		return
	}
	interval := now - last
	for {
		old := m.drainEMA.Load()
		next := interval
		if old > 0 {
			next = int64(drainEMAAlpha*float64(interval) + (1-drainEMAAlpha)*float64(old))
		}
		if m.drainEMA.CompareAndSwap(old, next) {
			return
		}
	}
}

// currentRetryAfter reports the observed drain-rate average once any
// release has been seen, falling back to the fixed 1-second default until
// then.
func (m *Manager) currentRetryAfter() time.Duration {
	if ema := m.drainEMA.Load(); ema > 0 {
		return time.Duration(ema)
	}
	return m.retryAfter
}

// Release is returned by AdmitSession/AdmitConnection to give back the slot
// once the session or connection ends.
type Release func()

// AdmitSession reserves one of MaxConcurrentSessions slots, queuing behind
// the pending-request counter if every slot is taken and rejecting outright
// once MaxPendingRequests callers are already queued or the manager is
// load-shedding or draining for shutdown. The returned Release must be
// called exactly once when the session ends.
func (m *Manager) AdmitSession(ctx context.Context) (Release, error) {
	return m.admit(ctx, m.sessionGate)
}

// AdmitConnection is AdmitSession's counterpart for MaxConnections.
func (m *Manager) AdmitConnection(ctx context.Context) (Release, error) {
	release, err := m.admit(ctx, m.connGate)
	if err != nil {
		return nil, err
	}
	observability.ConnectionsActive.Inc()
	var once sync.Once
	return func() { once.Do(func() { observability.ConnectionsActive.Dec(); release() }) }, nil
}

func (m *Manager) admit(ctx context.Context, gate *semaphore.Weighted) (Release, error) {
	m.mu.RLock()
	draining := m.shuttingDown
	m.mu.RUnlock()
	if draining {
		return nil, m.exhausted("draining", "server is shutting down")
	}
	if m.shedding.Load() {
		return nil, m.exhausted("load_shedding", "load shedding active")
	}

	release := func() func() {
		var once sync.Once
		return func() { once.Do(func() { gate.Release(1); m.observeRelease() }) }
	}()

	if gate.TryAcquire(1) {
		return release, nil
	}

	// Every concurrency slot is taken: queue behind the pending-request
	// counter, rejecting outright once too many callers are already queued.
	if atomic.AddInt64(&m.pending, 1) > int64(m.cfgSnapshot().MaxPendingRequests) {
		atomic.AddInt64(&m.pending, -1)
		return nil, m.exhausted("queue_full", "admission queue full")
	}
	defer atomic.AddInt64(&m.pending, -1)

	if err := gate.Acquire(ctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, m.exhausted("gate_closed", "admission gate closed")
	}
	return release, nil
}

func (m *Manager) exhausted(cause, message string) *media.Error {
	retryAfter := m.currentRetryAfter()
	observability.RecordAdmissionRejection(cause)
	observability.EmitAdmissionRejected(context.Background(), cause, retryAfter)
	return &media.Error{
		Kind:             media.ErrResourceExhausted,
		Message:          fmt.Sprintf("resource exhausted: %s", message),
		RetryAfterMillis: retryAfter.Milliseconds(),
	}
}

// SetPressure records the latest sampled CPU/memory utilization and flips
// the load-shedding flag according to the configured thresholds. Callers
// (an observability sampler, typically) call this on a periodic tick; the
// flag clears itself as soon as both metrics drop back under threshold.
func (m *Manager) SetPressure(cpuPercent, memoryPercent int) {
	cfg := m.cfgSnapshot()
	over := (cfg.LoadSheddingCPUPercent > 0 && cpuPercent >= cfg.LoadSheddingCPUPercent) ||
		(cfg.LoadSheddingMemoryPercent > 0 && memoryPercent >= cfg.LoadSheddingMemoryPercent)
	m.shedding.Store(over)
}

// SetLimits updates the subset of Config that can change safely without
// tearing down live state: timeouts, memory ceiling, load-shedding
// thresholds, and shutdown grace. MaxConcurrentSessions, MaxConnections,
// and MaxPendingRequests are fixed at New and ignored here, since they size
// the admission semaphores those already-admitted callers are holding
// slots on — resizing them live needs a gate swap this manager doesn't
// attempt. A config reload (internal/config's Holder) calls this on every
// successful reload.
func (m *Manager) SetLimits(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.DefaultSessionTimeout = cfg.DefaultSessionTimeout
	m.cfg.DefaultPerNodeTimeout = cfg.DefaultPerNodeTimeout
	m.cfg.MaxSessionMemoryBytes = cfg.MaxSessionMemoryBytes
	m.cfg.LoadSheddingCPUPercent = cfg.LoadSheddingCPUPercent
	m.cfg.LoadSheddingMemoryPercent = cfg.LoadSheddingMemoryPercent
	m.cfg.GraceShutdown = cfg.GraceShutdown
}

// cfgSnapshot returns a copy of the current config, safe to read without
// holding m.mu afterward.
func (m *Manager) cfgSnapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Shedding reports whether the manager is currently rejecting new sessions
// due to sustained pressure.
func (m *Manager) Shedding() bool { return m.shedding.Load() }

// Config returns the process-wide configuration this manager enforces, so
// callers (the router, resolving per-session timeouts) can read the
// defaults without the manager exposing its internal gates.
func (m *Manager) Config() Config { return m.cfgSnapshot() }

// PendingCount returns the number of callers currently queued on either
// admission gate.
func (m *Manager) PendingCount() int64 { return atomic.LoadInt64(&m.pending) }

// Shutdown stops admitting new sessions/connections immediately, then waits
// up to cfg.GraceShutdown for drain (reported complete when isDrained
// returns true), calling forceClose if the grace period elapses first.
func (m *Manager) Shutdown(ctx context.Context, isDrained func() bool, forceClose func()) {
	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()

	deadline := time.NewTimer(m.cfgSnapshot().GraceShutdown)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if isDrained() {
			return
		}
		select {
		case <-ctx.Done():
			forceClose()
			return
		case <-deadline.C:
			forceClose()
			return
		case <-ticker.C:
		}
	}
}
