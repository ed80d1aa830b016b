// Package speculate implements the speculative-forwarding coordinator: a
// latency-sensitive sub-scheduler that assumes every incoming audio chunk
// might be speech, lets it flow downstream with zero extra delay, and runs
// a gating classifier alongside to retroactively cancel the chunks that
// turn out not to have been real speech.
//
// The coordinator never touches the data path itself — the router's normal
// edge forwarding already delivers chunks downstream with no extra
// buffering. Observe is called alongside that forward, not ahead of it, so
// "parallel, not in series" here means non-blocking with respect to the
// data path rather than concurrent classifier execution inside Observe.
package speculate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/observability"
)

// healthWindow bounds how far back Health looks when scoring recent segment
// outcomes, independent of the lifetime ratio AcceptanceRate reports.
const healthWindow = 30 * time.Second

// Classifier is the gating VAD-like hook the coordinator runs on every
// forwarded chunk. Implementations are expected to be fast (sub-chunk
// latency); a slow classifier delays cancellation, not forwarding.
type Classifier interface {
	Classify(ctx context.Context, chunk *media.Audio) (probability float64, err error)
}

// Config tunes the coordinator. Zero-value fields fall back to
// DefaultConfig's values via NewCoordinator.
type Config struct {
	// Lookback is defaulted and stored but not consulted by Observe, which
	// keeps no buffer of forwarded chunks; a CancelSpeculation always spans
	// the whole candidate segment. Default 150ms.
	Lookback time.Duration
	// Lookahead is how long a run of below-threshold chunks must persist
	// before the coordinator resolves the candidate segment it closes.
	// Default 50ms.
	Lookahead time.Duration
	// ProbabilityThreshold is the classifier probability at or above which
	// a chunk counts toward a segment's speech duration. Default 0.5.
	ProbabilityThreshold float64
	// MinSpeechMillis is the minimum contiguous above-threshold duration a
	// segment needs to be accepted as real speech. Default 300ms.
	MinSpeechMillis int64
	// MinSilenceMillis is the minimum trailing below-threshold duration
	// required, in addition to Lookahead, before a segment is considered
	// closed. Default 200ms.
	MinSilenceMillis int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:             150 * time.Millisecond,
		Lookahead:            50 * time.Millisecond,
		ProbabilityThreshold: 0.5,
		MinSpeechMillis:      300,
		MinSilenceMillis:     200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.Lookahead <= 0 {
		c.Lookahead = d.Lookahead
	}
	if c.ProbabilityThreshold <= 0 {
		c.ProbabilityThreshold = d.ProbabilityThreshold
	}
	if c.MinSpeechMillis <= 0 {
		c.MinSpeechMillis = d.MinSpeechMillis
	}
	if c.MinSilenceMillis <= 0 {
		c.MinSilenceMillis = d.MinSilenceMillis
	}
	return c
}

// candidate is the coordinator's view of one in-progress speculative
// region: opened the moment a chunk arrives with no segment already open,
// closed once a trailing run of below-threshold chunks has lasted at least
// the longer of Lookahead and MinSilenceMillis.
type candidate struct {
	id           string
	start        time.Time
	end          time.Time
	aboveAccum   time.Duration
	silenceStart time.Time // zero while the trailing run has not yet gone below threshold
	resolved     bool      // true once this candidate has been accepted or cancelled
}

// Coordinator tracks one session's speculative-forwarding state. It is safe
// for concurrent Observe calls from multiple chunks in flight, though in
// practice a session feeds chunks to it in arrival order from one node
// driver.
type Coordinator struct {
	cfg        Config
	classifier Classifier
	sessionID  string
	segCounter int64

	mu       sync.Mutex
	open     *candidate
	accepted int
	rejected int
	health   *observability.RollingHealth
}

// New returns a coordinator for one session, fronting classifier.
func New(sessionID string, classifier Classifier, cfg Config) *Coordinator {
	return &Coordinator{
		sessionID:  sessionID,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		health:     observability.NewRollingHealth(healthWindow),
	}
}

// Observe classifies one forwarded chunk and advances the coordinator's
// segment state machine. It returns a non-nil CancelSpeculation control
// message exactly when a candidate segment just resolved as a false
// positive; the router forwards it downstream as a control buffer. A resolved
// true-positive segment (real speech) returns (nil, nil) and is simply
// counted toward the acceptance rate — nothing needs to be cancelled for
// output that really was speech.
func (c *Coordinator) Observe(ctx context.Context, chunk *media.Audio, ts time.Time) (*media.Control, error) {
	dur, err := chunkDuration(chunk)
	if err != nil {
		return nil, err
	}
	prob, err := c.classifier.Classify(ctx, chunk)
	if err != nil {
		return nil, fmt.Errorf("speculate: classify: %w", err)
	}
	above := prob >= c.cfg.ProbabilityThreshold
	end := ts.Add(dur)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil {
		c.open = &candidate{id: c.nextSegID(), start: ts}
	}
	seg := c.open

	if above && seg.resolved {
		// The previous candidate already resolved as silence; this chunk
		// starts a fresh speech attempt rather than reviving the old one.
		seg = &candidate{id: c.nextSegID(), start: ts}
		c.open = seg
	}
	seg.end = end

	if above {
		seg.aboveAccum += dur
		seg.silenceStart = time.Time{}
	} else if seg.silenceStart.IsZero() {
		seg.silenceStart = ts
	}

	if seg.resolved {
		return nil, nil
	}
	requiredSilence := c.cfg.Lookahead
	if minSilence := time.Duration(c.cfg.MinSilenceMillis) * time.Millisecond; minSilence > requiredSilence {
		requiredSilence = minSilence
	}
	if seg.silenceStart.IsZero() || end.Sub(seg.silenceStart) < requiredSilence {
		return nil, nil
	}

	// Trailing silence has lasted at least max(Lookahead, MinSilenceMillis):
	// resolve the segment. It stays the "open" candidate (so further silence
	// doesn't re-resolve it) until a new above-threshold run starts a fresh
	// one.
	seg.resolved = true
	if seg.aboveAccum >= time.Duration(c.cfg.MinSpeechMillis)*time.Millisecond {
		c.accepted++
		c.health.Record(end, true)
		return nil, nil
	}
	c.rejected++
	c.health.Record(end, false)
	return media.NewCancelSpeculation(seg.start, seg.end, seg.id, "vad_false_positive"), nil
}

func (c *Coordinator) nextSegID() string {
	n := atomic.AddInt64(&c.segCounter, 1)
	return fmt.Sprintf("%s-seg-%d", c.sessionID, n)
}

// AcceptanceRate returns the fraction of resolved segments that were
// accepted as real speech, exposed as a per-session health signal. A
// session with no resolved segments yet reports a rate of 1 (nothing has
// been rejected).
func (c *Coordinator) AcceptanceRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.accepted + c.rejected
	if total == 0 {
		return 1
	}
	return float64(c.accepted) / float64(total)
}

// Counts returns the raw accepted/rejected segment counts.
func (c *Coordinator) Counts() (accepted, rejected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.rejected
}

// Health returns the fraction of segments resolved within the trailing
// healthWindow that were accepted as real speech, as of now. Unlike
// AcceptanceRate's lifetime ratio, this recovers once a session's
// speculative behavior improves, rather than carrying early rejections
// forward for the rest of the session.
func (c *Coordinator) Health(now time.Time) float64 {
	return c.health.Score(now)
}

func chunkDuration(a *media.Audio) (time.Duration, error) {
	if a == nil {
		return 0, &media.Error{Kind: media.ErrValidation, Message: "speculate: nil audio chunk"}
	}
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0, &media.Error{Kind: media.ErrValidation, Message: "speculate: chunk missing sample rate/channels"}
	}
	framesPerChannel := a.NumSamples / a.Channels
	seconds := float64(framesPerChannel) / float64(a.SampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
