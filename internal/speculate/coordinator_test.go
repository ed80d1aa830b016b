package speculate

import (
	"context"
	"testing"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClassifier returns its scripted probabilities in order, regardless
// of chunk contents, repeating the last one once the script runs out, so
// tests can script a sequence of above/below-threshold chunks precisely.
type scriptedClassifier struct {
	probs []float64
	calls int
}

func (c *scriptedClassifier) Classify(ctx context.Context, chunk *media.Audio) (float64, error) {
	if c.calls >= len(c.probs) {
		return c.probs[len(c.probs)-1], nil
	}
	p := c.probs[c.calls]
	c.calls++
	return p, nil
}

func chunk(samples int) *media.Audio {
	return &media.Audio{
		Bytes:      make([]byte, samples*4),
		SampleRate: 16000,
		Channels:   1,
		Format:     media.SampleFormatF32,
		NumSamples: samples,
	}
}

// TestNoiseThenSilenceCancelsSpeculation exercises the seed scenario: a run
// of chunks that never crosses the speech-probability threshold resolves,
// once enough trailing silence has passed, as a false positive — the whole
// forwarded span gets cancelled and the acceptance rate drops to 0.
func TestNoiseThenSilenceCancelsSpeculation(t *testing.T) {
	// 10 chunks of 20ms (200ms total), all below threshold.
	probs := make([]float64, 10)
	for i := range probs {
		probs[i] = 0.1
	}
	classifier := &scriptedClassifier{probs: probs}
	cfg := Config{
		Lookback:             150 * time.Millisecond,
		Lookahead:            50 * time.Millisecond,
		ProbabilityThreshold: 0.5,
		MinSpeechMillis:      300,
		MinSilenceMillis:     200,
	}
	coord := New("sess-1", classifier, cfg)

	start := time.Unix(0, 0)
	var ctrl *media.Control
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * 20 * time.Millisecond)
		c, err := coord.Observe(context.Background(), chunk(320), ts) // 320 samples @16kHz = 20ms
		require.NoError(t, err)
		if c != nil {
			ctrl = c
		}
	}
	require.NotNil(t, ctrl, "expected a CancelSpeculation once trailing silence exceeds the lookahead window")
	assert.Equal(t, media.ControlCancelSpeculation, ctrl.Kind)
	assert.Equal(t, "vad_false_positive", ctrl.Reason)
	assert.Equal(t, start, ctrl.FromTimestamp)
	assert.True(t, ctrl.ToTimestamp.After(ctrl.FromTimestamp))

	accepted, rejected := coord.Counts()
	assert.Equal(t, 0, accepted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0.0, coord.AcceptanceRate())
}

// TestSustainedSpeechIsAccepted exercises the accept path: once a run of
// above-threshold chunks accumulates at least MinSpeechMillis before the
// trailing silence resolves the segment, no cancellation is emitted and the
// segment counts toward acceptance.
func TestSustainedSpeechIsAccepted(t *testing.T) {
	// 20 chunks of 20ms above threshold (400ms, over the 300ms minimum),
	// then 10 chunks below threshold (200ms) so the default 200ms minimum
	// trailing silence resolves it.
	probs := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < 10; i++ {
		probs = append(probs, 0.1)
	}
	classifier := &scriptedClassifier{probs: probs}
	coord := New("sess-2", classifier, DefaultConfig())

	start := time.Unix(0, 0)
	var ctrl *media.Control
	for i := 0; i < len(probs); i++ {
		ts := start.Add(time.Duration(i) * 20 * time.Millisecond)
		c, err := coord.Observe(context.Background(), chunk(320), ts)
		require.NoError(t, err)
		if c != nil {
			ctrl = c
		}
	}
	assert.Nil(t, ctrl, "a confirmed speech segment must not be cancelled")

	accepted, rejected := coord.Counts()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 0, rejected)
	assert.Equal(t, 1.0, coord.AcceptanceRate())
}

// TestMinSilenceMillisDelaysResolutionPastLookahead exercises MinSilenceMillis
// as a floor on trailing silence independent of Lookahead: with Lookahead set
// far shorter than MinSilenceMillis, a candidate segment must not resolve
// merely because Lookahead has elapsed — it has to wait for the longer of the
// two.
func TestMinSilenceMillisDelaysResolutionPastLookahead(t *testing.T) {
	cfg := Config{
		Lookback:             500 * time.Millisecond,
		Lookahead:            20 * time.Millisecond,
		ProbabilityThreshold: 0.5,
		MinSpeechMillis:      300,
		MinSilenceMillis:     200,
	}

	// 20 chunks of 20ms above threshold (400ms, over MinSpeechMillis).
	probs := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		probs = append(probs, 0.9)
	}
	// Trailing silence: 9 chunks (180ms) clears Lookahead after the first
	// chunk but stays under MinSilenceMillis until the 10th.
	for i := 0; i < 10; i++ {
		probs = append(probs, 0.1)
	}
	classifier := &scriptedClassifier{probs: probs}
	coord := New("sess-5", classifier, cfg)

	start := time.Unix(0, 0)
	var resolvedAt = -1
	for i := 0; i < len(probs); i++ {
		ts := start.Add(time.Duration(i) * 20 * time.Millisecond)
		c, err := coord.Observe(context.Background(), chunk(320), ts)
		require.NoError(t, err)
		if c != nil {
			resolvedAt = i
		}
		accepted, rejected := coord.Counts()
		if i < 29 {
			require.Equal(t, 0, accepted+rejected, "segment must not resolve before MinSilenceMillis of trailing silence has elapsed (chunk %d)", i)
		}
	}
	assert.Equal(t, -1, resolvedAt, "accepted segment resolves silently, with no cancel control")

	accepted, rejected := coord.Counts()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 0, rejected)
}

func TestAcceptanceRateDefaultsToOneWithNoResolvedSegments(t *testing.T) {
	coord := New("sess-3", &scriptedClassifier{probs: []float64{0.9}}, DefaultConfig())
	assert.Equal(t, 1.0, coord.AcceptanceRate())
}

// TestHealthRecoversAfterLifetimeRatioStaysDepressed exercises the
// distinction between the lifetime AcceptanceRate and the trailing-window
// Health signal on the same coordinator: an early rejected segment
// permanently depresses the lifetime ratio, but once healthWindow has
// elapsed and a later segment is accepted, Health (scored at that later
// resolve time) no longer counts the long-expired rejection against it.
func TestHealthRecoversAfterLifetimeRatioStaysDepressed(t *testing.T) {
	cfg := Config{
		Lookback:             150 * time.Millisecond,
		Lookahead:            50 * time.Millisecond,
		ProbabilityThreshold: 0.5,
		MinSpeechMillis:      300,
		MinSilenceMillis:     200,
	}

	// First segment: below threshold throughout, resolves as rejected.
	rejectProbs := make([]float64, 10)
	for i := range rejectProbs {
		rejectProbs[i] = 0.1
	}
	// Second segment, far later: sustained speech above threshold, then
	// trailing silence resolves it as accepted.
	acceptProbs := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		acceptProbs = append(acceptProbs, 0.9)
	}
	for i := 0; i < 10; i++ {
		acceptProbs = append(acceptProbs, 0.1)
	}

	classifier := &scriptedClassifier{probs: append(append([]float64{}, rejectProbs...), acceptProbs...)}
	coord := New("sess-4", classifier, cfg)

	start := time.Unix(0, 0)
	for i := 0; i < len(rejectProbs); i++ {
		ts := start.Add(time.Duration(i) * 20 * time.Millisecond)
		_, err := coord.Observe(context.Background(), chunk(320), ts)
		require.NoError(t, err)
	}

	later := start.Add(healthWindow * 10)
	var lastTs time.Time
	for i := 0; i < len(acceptProbs); i++ {
		lastTs = later.Add(time.Duration(i) * 20 * time.Millisecond)
		_, err := coord.Observe(context.Background(), chunk(320), lastTs)
		require.NoError(t, err)
	}

	accepted, rejected := coord.Counts()
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)
	assert.Equal(t, 0.5, coord.AcceptanceRate(), "lifetime ratio stays permanently depressed by the first rejection")
	assert.Equal(t, 1.0, coord.Health(lastTs), "the expired rejection no longer counts within the trailing window")
}
