package router

import (
	"context"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/speculate"
)

// handleClassifier adapts a registered node's ExecutorHandle into a
// speculate.Classifier by driving it once per chunk and reading back a
// probability from its JSON output. The VAD node runs as an ordinary
// executor handle, outside the manifest's own connection graph, so it can
// be driven synchronously from the speculating node's driver loop without
// competing for a place in the DAG.
type handleClassifier struct {
	handle registry.ExecutorHandle
}

// Classify drives the underlying handle with the raw audio buffer and reads
// a "probability" (or boolean "speech") field back out of its JSON output.
// A handle that produces no output, or a buffer this adapter doesn't
// recognize, is treated as a probability of 0 rather than an error — a
// silent classifier should not itself suppress the speculative forward.
func (h handleClassifier) Classify(ctx context.Context, chunk *media.Audio) (float64, error) {
	out, errCh, err := h.handle.Process(ctx, media.Buffer{Kind: media.KindAudio, Audio: chunk})
	if err != nil {
		return 0, err
	}
	var prob float64
	for buf := range out {
		if buf.Kind != media.KindJSON {
			continue
		}
		fields, ok := buf.JSON.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := fields["probability"]; ok {
			prob = jsonProbability(p)
		} else if speech, ok := fields["speech"].(bool); ok && speech {
			prob = 1
		}
	}
	if asyncErr := <-errCh; asyncErr != nil {
		return 0, asyncErr
	}
	return prob, nil
}

// jsonProbability unwraps the couple of output shapes the built-in VAD
// fixtures use; a classifier is free to emit either a float probability or
// a bare speech/non-speech boolean.
func jsonProbability(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
