// Package registry holds the process-wide node factory registry: the
// mapping from a manifest node's declared type name to the factory that can
// construct an executor handle for it.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/audit"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
)

// GPUKind identifies the accelerator family a node requires, when any.
type GPUKind string

const (
	GPUNone   GPUKind = ""
	GPUCUDA   GPUKind = "cuda"
	GPUROCm   GPUKind = "rocm"
	GPUMetal  GPUKind = "metal"
)

// CapabilityDescriptor declares what a node type needs and which executor
// variants can host it. The manifest validator and session router both read
// this to decide placement and to reject impossible pipelines up front.
type CapabilityDescriptor struct {
	RequiresThreads    bool
	RequiresNativeLibs bool
	RequiresGPU        bool
	GPUKind            GPUKind
	RequiresLargeMemory bool
	EstimatedMemoryMB  int

	SupportsInProcess bool
	SupportsSubprocess bool
	SupportsContainer bool
}

// satisfies reports whether this descriptor meets a manifest node's
// requested capabilities (a subset check: the node may ask for less than
// what the factory declares, never more).
func (c CapabilityDescriptor) satisfies(requested *RequestedCapabilities) bool {
	if requested == nil {
		return true
	}
	if requested.GPU && !c.RequiresGPU {
		return false
	}
	if requested.GPU && requested.GPUKind != "" && requested.GPUKind != c.GPUKind {
		return false
	}
	return true
}

// RequestedCapabilities mirrors the manifest's node-level capability hints
// in a form the registry can check against a factory's descriptor, without
// the registry package depending on the manifest package.
type RequestedCapabilities struct {
	GPU     bool
	GPUKind GPUKind
}

// ExecutorHandle is what a factory hands back: a live, not-yet-initialized
// executor instance bound to one node within one session.
type ExecutorHandle interface {
	Initialize(ctx context.Context, params []byte) error
	Process(ctx context.Context, in media.Buffer) (<-chan media.Buffer, <-chan error, error)
	Shutdown(ctx context.Context) error
	Cancel()
	HeartbeatAge() time.Duration
}

// Factory constructs ExecutorHandle instances for one node type.
type Factory interface {
	TypeName() string
	Capabilities() CapabilityDescriptor
	Create(ctx context.Context, nodeID string, params []byte, sessionID string) (ExecutorHandle, error)
}

// Registry is the process-wide node type → factory map. It is safe for
// concurrent use; lookups happen on every session realization and
// registration typically happens once at startup per built-in or plugin
// node type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under its declared type name. Registering two
// factories under the same type name is an error — node types are meant to
// be unambiguous system-wide.
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := f.TypeName()
	if _, exists := r.factories[name]; exists {
		err := &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("node type %q already registered", name)}
		audit.LogFailure(audit.OpNodeTypeRegister, "", "", name, err)
		return err
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	audit.LogSuccess(audit.OpNodeTypeRegister, "", "", name)
	return nil
}

// KnownType reports whether a type name has a registered factory. It
// implements manifest.TypeChecker.
func (r *Registry) KnownType(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

// CapabilitiesSatisfiable reports whether the registered factory for
// typeName can meet the capabilities a manifest node declares. An unknown
// type is treated as unsatisfiable; callers should have already rejected it
// via KnownType. It implements manifest.TypeChecker.
func (r *Registry) CapabilitiesSatisfiable(typeName string, caps *manifest.Capabilities) bool {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return f.Capabilities().satisfies(requestedFromManifest(caps))
}

// requestedFromManifest translates a manifest node's capability hints into
// the registry's own RequestedCapabilities shape, keeping manifest free of
// any dependency back on this package.
func requestedFromManifest(caps *manifest.Capabilities) *RequestedCapabilities {
	if caps == nil {
		return nil
	}
	return &RequestedCapabilities{GPU: caps.GPU, GPUKind: GPUKind(caps.GPUKind)}
}

// Create resolves typeName to its factory and constructs an executor
// handle. Returns UnknownNodeType if no factory is registered, or wraps a
// factory construction failure as NodeInitFailed.
func (r *Registry) Create(ctx context.Context, typeName, nodeID string, params []byte, sessionID string) (ExecutorHandle, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, &media.Error{Kind: media.ErrUnknownNodeType, Message: fmt.Sprintf("unknown node type %q", typeName), NodeID: nodeID}
	}
	handle, err := f.Create(ctx, nodeID, params, sessionID)
	if err != nil {
		return nil, &media.Error{Kind: media.ErrNodeInitFailed, Message: err.Error(), NodeID: nodeID, Cause: err}
	}
	return handle, nil
}

// Descriptor returns the capability descriptor for a registered type, or
// false if the type is unknown.
func (r *Registry) Descriptor(typeName string) (CapabilityDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	if !ok {
		return CapabilityDescriptor{}, false
	}
	return f.Capabilities(), true
}

// TypeNames returns all registered type names in registration order.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// GenerateParamSchema derives a JSON Schema object for a node's params type
// via reflection, for factories that want to expose a schema without
// hand-writing one. Mirrors the shape of the field tags (json, omitempty).
func GenerateParamSchema[P any]() map[string]any {
	var p P
	t := reflect.TypeOf(p)
	if t == nil {
		return map[string]any{"type": "object"}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object"}
	}
	return structSchema(t)
}

func structSchema(t reflect.Type) map[string]any {
	props := make(map[string]any)
	var required []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		}
		props[name] = fieldSchema(field.Type)
		if !omitempty {
			required = append(required, name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func fieldSchema(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		return fieldSchema(t.Elem())
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": fieldSchema(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": fieldSchema(t.Elem())}
	case reflect.Struct:
		return structSchema(t)
	default:
		return map[string]any{}
	}
}
