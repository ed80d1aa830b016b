// Package limits enforces the process-wide and per-session resource bounds:
// admission control over concurrent sessions and connections, a bounded
// pending-request queue, load-shedding under sustained pressure, and
// graceful drain-then-force-close shutdown.
package limits

import "time"

// Config holds the process-wide limits an embedder configures at startup.
// Field names and defaults follow the enumerated process-wide configuration
// options.
type Config struct {
	// MaxConcurrentSessions caps how many sessions may be Active at once.
	MaxConcurrentSessions int
	// MaxConnections caps how many transport connections may be open at
	// once, independent of how many sessions each multiplexes.
	MaxConnections int
	// MaxPendingRequests bounds the admission queue: requests arriving
	// once every concurrency slot is taken queue here; past this many
	// already queued, further requests are rejected outright.
	MaxPendingRequests int

	// DefaultSessionTimeout bounds a session's total wall-clock lifetime
	// when the manifest (or client) doesn't request a tighter one.
	DefaultSessionTimeout time.Duration
	// DefaultPerNodeTimeout bounds one node's Initialize/Process call when
	// the manifest doesn't request a tighter one.
	DefaultPerNodeTimeout time.Duration
	// MaxSessionMemoryBytes is the server-side ceiling on a session's
	// estimated memory footprint; a client may request a tighter one.
	MaxSessionMemoryBytes int64

	// LoadSheddingCPUPercent and LoadSheddingMemoryPercent are the
	// sustained utilization thresholds past which the manager sets its
	// load-shedding flag and starts rejecting new sessions.
	LoadSheddingCPUPercent    int
	LoadSheddingMemoryPercent int

	// GraceShutdown bounds how long Shutdown waits for in-flight sessions
	// to drain before forcing them closed.
	GraceShutdown time.Duration
}

// DefaultConfig returns conservative defaults suitable for a single-process
// development deployment.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSessions:     256,
		MaxConnections:            1024,
		MaxPendingRequests:        512,
		DefaultSessionTimeout:     5 * time.Minute,
		DefaultPerNodeTimeout:     30 * time.Second,
		MaxSessionMemoryBytes:     1 << 30, // 1 GiB
		LoadSheddingCPUPercent:    90,
		LoadSheddingMemoryPercent: 90,
		GraceShutdown:             30 * time.Second,
	}
}

// SessionLimits are the per-session bounds actually in force for one
// realized session, after resolving any client-requested overrides against
// the server configuration.
type SessionLimits struct {
	MaxMemoryBytes        int64
	MaxWallClock          time.Duration
	MaxAudioSamplesPerBuf int
}

// ResolveSessionLimits takes the minimum of each client-requested field and
// the server's configured maximum; a zero client field means "no request",
// so the server default applies unmodified.
func ResolveSessionLimits(client *SessionLimits, cfg Config) SessionLimits {
	resolved := SessionLimits{
		MaxMemoryBytes: cfg.MaxSessionMemoryBytes,
		MaxWallClock:   cfg.DefaultSessionTimeout,
	}
	if client == nil {
		return resolved
	}
	if client.MaxMemoryBytes > 0 && client.MaxMemoryBytes < resolved.MaxMemoryBytes {
		resolved.MaxMemoryBytes = client.MaxMemoryBytes
	}
	if client.MaxWallClock > 0 && client.MaxWallClock < resolved.MaxWallClock {
		resolved.MaxWallClock = client.MaxWallClock
	}
	if client.MaxAudioSamplesPerBuf > 0 {
		resolved.MaxAudioSamplesPerBuf = client.MaxAudioSamplesPerBuf
	}
	return resolved
}

// EstimateSessionMemory derives the estimate-based memory bound for a
// session from the shape of its realized edges: queue depth × buffer size,
// summed across edges, times a 3x safety factor for in-flight copies and
// transport framing overhead.
func EstimateSessionMemory(edgeQueueDepths []int, bufferSizeBytes int) int64 {
	const safetyFactor = 3
	var total int64
	for _, depth := range edgeQueueDepths {
		total += int64(depth) * int64(bufferSizeBytes)
	}
	return total * safetyFactor
}
