package router

import (
	"context"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/limits"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/transport"
)

// Config tunes session realization. Zero values fall back to the package
// defaults used throughout edge.go and session.go.
type Config struct {
	// NodeInitTimeout bounds how long any one node's Initialize may block
	// before realize fails the whole session. Zero disables the timeout.
	NodeInitTimeout time.Duration
	// SessionTimeout bounds a session's total wall-clock lifetime. Zero
	// falls back to Limits.Config().DefaultSessionTimeout when Limits is
	// set, or disables the timeout entirely when it isn't.
	SessionTimeout time.Duration
	// NodeProcessTimeout bounds one node's Process call. Zero falls back to
	// Limits.Config().DefaultPerNodeTimeout when Limits is set, or disables
	// the timeout entirely when it isn't.
	NodeProcessTimeout time.Duration
	// HeartbeatCheckInterval is how often the crash watchdog samples every
	// out-of-process node's HeartbeatAge. Zero falls back to
	// defaultHeartbeatCheckInterval.
	HeartbeatCheckInterval time.Duration
	// HeartbeatGrace is how long a subprocess/container node may go without
	// publishing a Heartbeat frame before the watchdog treats it as crashed.
	// Zero falls back to defaultHeartbeatGrace.
	HeartbeatGrace time.Duration
	// Limits, if set, gates session realization behind process-wide
	// admission control. Nil disables admission control entirely.
	Limits *limits.Manager
}

// resolveTimeouts applies Config's explicit overrides, falling back to
// Limits' process-wide defaults for whichever field was left zero.
func (r *Router) resolveTimeouts() (sessionTimeout, nodeProcessTimeout time.Duration) {
	sessionTimeout, nodeProcessTimeout = r.cfg.SessionTimeout, r.cfg.NodeProcessTimeout
	if r.cfg.Limits == nil {
		return
	}
	lcfg := r.cfg.Limits.Config()
	if sessionTimeout == 0 {
		sessionTimeout = lcfg.DefaultSessionTimeout
	}
	if nodeProcessTimeout == 0 {
		nodeProcessTimeout = lcfg.DefaultPerNodeTimeout
	}
	return
}

// Router is the session realization engine: given a validated manifest, it
// builds and runs a Session, and implements the narrow Runner contract the
// ffi and httpjson transports forward requests through. It holds every
// session it has realized in an in-memory index — sessions are not
// persisted, since a crash invalidates in-flight shared-memory state and
// IPC channels anyway.
type Router struct {
	reg *registry.Registry
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New returns a Router backed by reg's node type factories.
func New(reg *registry.Registry, cfg Config) *Router {
	return &Router{reg: reg, cfg: cfg, sessions: make(map[string]*Session)}
}

// Execute realizes a session for m, feeds in as the single input, collects
// the first output any terminal node produces, and tears the session down.
// It is the unary request/response path — ffi and httpjson's handleExecute
// both forward here.
func (r *Router) Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error) {
	release, err := r.admit(ctx)
	if err != nil {
		return nil, err
	}
	sessionTimeout, nodeProcessTimeout := r.resolveTimeouts()
	sess, err := realize(ctx, r.reg, m, r.cfg.NodeInitTimeout, sessionTimeout, nodeProcessTimeout, r.cfg.HeartbeatCheckInterval, r.cfg.HeartbeatGrace, release)
	if err != nil {
		return nil, err
	}
	r.track(sess)
	defer r.untrack(sess)
	defer sess.Close()

	if err := sess.SendInput(ctx, in); err != nil {
		return nil, err
	}
	return sess.RecvOutput(ctx)
}

// Stream realizes a session for m and returns it directly as a
// transport.StreamSession; the caller drives input/output and is
// responsible for calling Close when done.
func (r *Router) Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error) {
	release, err := r.admit(ctx)
	if err != nil {
		return nil, err
	}
	sessionTimeout, nodeProcessTimeout := r.resolveTimeouts()
	sess, err := realize(ctx, r.reg, m, r.cfg.NodeInitTimeout, sessionTimeout, nodeProcessTimeout, r.cfg.HeartbeatCheckInterval, r.cfg.HeartbeatGrace, release)
	if err != nil {
		return nil, err
	}
	r.track(sess)
	return sess, nil
}

// admit reserves an admission slot when the router has a limits.Manager
// configured; it is a no-op returning a nil release otherwise.
func (r *Router) admit(ctx context.Context) (func(), error) {
	if r.cfg.Limits == nil {
		return nil, nil
	}
	release, err := r.cfg.Limits.AdmitSession(ctx)
	if err != nil {
		return nil, err
	}
	return func() { release() }, nil
}

func (r *Router) track(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *Router) untrack(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.id)
}

// Lookup returns the live session for id, if any is currently tracked.
func (r *Router) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns the ids of every currently tracked session.
func (r *Router) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every tracked session, used for process-wide graceful
// shutdown.
func (r *Router) Shutdown() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
			r.untrack(s)
		}()
	}
	wg.Wait()
}
