package ipc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
)

// controlFrame is the newline-delimited-JSON-shaped wire form of a Control
// message on the control topic, mirroring the request/response framing the
// agent runtimes use for their own stdio RPC, adapted here to one-way
// control frames instead of paired request/response.
type controlFrame struct {
	Kind          media.ControlKind `json:"kind"`
	GraceMillis   int64             `json:"grace_millis,omitempty"`
	FromTimestamp time.Time         `json:"from_timestamp,omitempty"`
	ToTimestamp   time.Time         `json:"to_timestamp,omitempty"`
	SegmentID     string            `json:"segment_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ErrorKind     media.ErrKind     `json:"error_kind,omitempty"`
	Detail        string            `json:"detail,omitempty"`
}

func toFrame(c *media.Control) controlFrame {
	return controlFrame{
		Kind: c.Kind, GraceMillis: c.GraceMillis,
		FromTimestamp: c.FromTimestamp, ToTimestamp: c.ToTimestamp,
		SegmentID: c.SegmentID, Reason: c.Reason,
		ErrorKind: c.ErrorKind, Detail: c.Detail,
	}
}

func fromFrame(f controlFrame) *media.Control {
	return &media.Control{
		Kind: f.Kind, GraceMillis: f.GraceMillis,
		FromTimestamp: f.FromTimestamp, ToTimestamp: f.ToTimestamp,
		SegmentID: f.SegmentID, Reason: f.Reason,
		ErrorKind: f.ErrorKind, Detail: f.Detail,
	}
}

// ControlChannel is the bidirectional-in-spirit (but logically one sender,
// many observers) control topic for a single node: the worker publishes
// Ready/Heartbeat/StreamError, the router publishes Shutdown/Cancel/
// CancelSpeculation. Both sides hold the same ControlChannel value and tell
// frames apart by Kind, matching the "control sideband overtakes data"
// servicing order from the router's driver loop.
type ControlChannel struct {
	name string

	mu   sync.Mutex
	subs []chan *media.Control

	lastHeartbeat time.Time
}

// NewControlChannel creates the control topic for a node. The router calls
// this when realizing a session; it does not need a backing Region since
// control frames are small and latency-sensitive, not zero-copy candidates.
func NewControlChannel(sessionID, nodeID string) *ControlChannel {
	return &ControlChannel{name: ControlChannelName(sessionID, nodeID)}
}

// Subscribe returns a channel that receives every frame published from now
// on. Used by the router to watch for Ready/Heartbeat/StreamError and by
// workers to watch for Shutdown/Cancel/CancelSpeculation.
func (c *ControlChannel) Subscribe(buffer int) <-chan *media.Control {
	ch := make(chan *media.Control, buffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Publish fans a control message out to every current subscriber. Marshaling
// through controlFrame keeps the wire shape stable even as media.Control
// gains fields only some message kinds use.
func (c *ControlChannel) Publish(msg *media.Control) error {
	if msg.Kind == media.ControlHeartbeat {
		c.mu.Lock()
		c.lastHeartbeat = timeNow()
		c.mu.Unlock()
	}
	frame := toFrame(msg)
	if _, err := json.Marshal(frame); err != nil {
		return fmt.Errorf("ipc: marshal control frame: %w", err)
	}
	decoded := fromFrame(frame)

	c.mu.Lock()
	subs := append([]chan *media.Control(nil), c.subs...)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- decoded:
		default:
		}
	}
	return nil
}

// WaitReady blocks until a Ready frame arrives or timeout elapses. This
// implements the handshake the router performs before invoking process on
// a freshly constructed subprocess/container executor.
func (c *ControlChannel) WaitReady(timeout time.Duration) error {
	ch := c.Subscribe(1)
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if msg.Kind == media.ControlReady {
				return nil
			}
		case <-deadline:
			return &media.Error{Kind: media.ErrNodeInitFailed, Message: "timed out waiting for Ready on control channel"}
		}
	}
}

// HeartbeatAge returns how long it has been since the last Heartbeat frame
// was observed, used by the router's failure detector to decide a worker
// has crashed.
func (c *ControlChannel) HeartbeatAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHeartbeat.IsZero() {
		return 0
	}
	return timeNow().Sub(c.lastHeartbeat)
}

// timeNow is indirected so tests can fake the clock deterministically.
var timeNow = time.Now
