package executor

import (
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
)

// breakerState is the internal state machine for CircuitBreaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker guards the remote executor: after N consecutive failures
// within a window it opens and fails fast with ResourceExhausted until a
// cooldown elapses, then lets a single trial call probe recovery.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration

	state        breakerState
	failures     int
	windowStart  time.Time
	openedAt     time.Time
	trialInFlight bool
}

// NewCircuitBreaker returns a breaker that opens after failureThreshold
// consecutive failures observed within window, and stays open for cooldown
// before allowing a single trial call.
func NewCircuitBreaker(failureThreshold int, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, window: window, cooldown: cooldown}
}

// Allow reports whether a call may proceed, returning a ResourceExhausted
// error when the breaker is open and no trial slot is available.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if timeNow().Sub(b.openedAt) < b.cooldown {
			return &media.Error{Kind: media.ErrResourceExhausted, Message: "circuit breaker open", RetryAfterMillis: b.cooldown.Milliseconds()}
		}
		b.state = breakerHalfOpen
		b.trialInFlight = true
		return nil
	case breakerHalfOpen:
		if b.trialInFlight {
			return &media.Error{Kind: media.ErrResourceExhausted, Message: "circuit breaker probing recovery", RetryAfterMillis: b.cooldown.Milliseconds()}
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.trialInFlight = false
}

// RecordFailure counts a failure, opening the breaker once the threshold is
// reached within the configured window; a failure during a half-open trial
// reopens the breaker immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.trip()
		return
	}

	now := timeNow()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.state = breakerOpen
	b.openedAt = timeNow()
	b.trialInFlight = false
	b.failures = 0
}

// timeNow is indirected for deterministic tests.
var timeNow = time.Now
