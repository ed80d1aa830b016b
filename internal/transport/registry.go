package transport

import (
	"fmt"
	"sync"

	"github.com/mediacore/pipelinecore/internal/media"
)

// SupportedProtocolVersions is the runtime's negotiable version list, newest
// first. A new major version adds an entry here rather than replacing one,
// so old clients keep working until explicitly dropped.
var SupportedProtocolVersions = []string{"v1"}

// Negotiate picks the highest mutually-supported version from clientOffered,
// or returns VersionMismatch naming the server's supported list. Per the
// spec's forward-compatibility note, an unrecognized version is never
// guessed at from the shape of the request.
func Negotiate(clientOffered []string) (string, error) {
	for _, v := range SupportedProtocolVersions {
		for _, offered := range clientOffered {
			if offered == v {
				return v, nil
			}
		}
	}
	return "", &media.Error{Kind: media.ErrVersionMismatch, Message: "no mutually supported protocol version", SupportedVersions: SupportedProtocolVersions}
}

// Registry is the process-wide transport plugin table: transport name →
// implementation. The runner looks transports up by name when the config
// selects which ones to start.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]PipelineTransport
}

// NewRegistry returns an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]PipelineTransport)}
}

// Register adds a transport under its own Name(). Duplicate names are
// rejected, mirroring the node registry's uniqueness rule.
func (r *Registry) Register(t PipelineTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}
	r.byName[name] = t
	return nil
}

// Get returns the transport registered under name, if any.
func (r *Registry) Get(name string) (PipelineTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Names returns all registered transport names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
