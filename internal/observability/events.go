package observability

import (
	"context"
	"time"

	"github.com/mediacore/pipelinecore/internal/logger"
	"github.com/mediacore/pipelinecore/internal/media"
)

// EmitSessionCreated logs the structured session-create event.
func EmitSessionCreated(ctx context.Context, sessionID, manifestName string, nodeCount int) {
	logger.InfoContext(ctx, "session created",
		"event", "session_created",
		"session_id", sessionID,
		"manifest_name", manifestName,
		"node_count", nodeCount,
	)
}

// EmitSessionClosed logs the structured session-close event, including the
// error class (empty for a clean close) and the session's total lifetime.
func EmitSessionClosed(ctx context.Context, sessionID string, reason string, duration time.Duration, closeErr error) {
	errorClass := ""
	if closeErr != nil {
		errorClass = errKindOf(closeErr)
	}
	logger.InfoContext(ctx, "session closed",
		"event", "session_closed",
		"session_id", sessionID,
		"reason", reason,
		"duration_ms", duration.Milliseconds(),
		"error_class", errorClass,
	)
}

// EmitNodeExecution logs one node Process invocation's outcome at
// microsecond resolution.
func EmitNodeExecution(ctx context.Context, sessionID, nodeID, nodeType string, latency time.Duration, err error) {
	if err != nil {
		logger.ErrorContext(ctx, "node execution failed",
			"event", "node_execution",
			"session_id", sessionID,
			"node_id", nodeID,
			"node_type", nodeType,
			"latency_us", latency.Microseconds(),
			"error_class", errKindOf(err),
			"error", err.Error(),
		)
		return
	}
	logger.DebugContext(ctx, "node execution",
		"event", "node_execution",
		"session_id", sessionID,
		"node_id", nodeID,
		"node_type", nodeType,
		"latency_us", latency.Microseconds(),
	)
}

// EmitSpeculationResolved logs one speculative segment's resolution
// (accepted as speech, or rejected with a reason and retracted range).
func EmitSpeculationResolved(ctx context.Context, sessionID, segmentID string, accepted bool, reason string) {
	logger.InfoContext(ctx, "speculative segment resolved",
		"event", "speculation_resolved",
		"session_id", sessionID,
		"segment_id", segmentID,
		"accepted", accepted,
		"reason", reason,
	)
}

// EmitAdmissionRejected logs one admission-control rejection.
func EmitAdmissionRejected(ctx context.Context, cause string, retryAfter time.Duration) {
	logger.WarnContext(ctx, "admission rejected",
		"event", "admission_rejected",
		"cause", cause,
		"retry_after_ms", retryAfter.Milliseconds(),
	)
}

// errKindOf extracts the taxonomy kind from a *media.Error, or "internal"
// for any other error type.
func errKindOf(err error) string {
	if merr, ok := err.(*media.Error); ok {
		return string(merr.Kind)
	}
	return string(media.ErrInternal)
}
