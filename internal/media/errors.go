package media

import "fmt"

// ErrKind enumerates the error taxonomy shared across the whole core:
// validation, registry, executor, router, and transport layers all produce
// (or wrap) one of these.
type ErrKind string

const (
	ErrValidation       ErrKind = "validation"
	ErrUnknownNodeType  ErrKind = "unknown_node_type"
	ErrNodeInitFailed   ErrKind = "node_init_failed"
	ErrNodeExecution    ErrKind = "node_execution"
	ErrCancelled        ErrKind = "cancelled"
	ErrTimeout          ErrKind = "timeout"
	ErrResourceExhausted ErrKind = "resource_exhausted"
	ErrTransportClosed  ErrKind = "transport_closed"
	ErrVersionMismatch  ErrKind = "version_mismatch"
	ErrAuthDenied       ErrKind = "auth_denied"
	ErrInternal         ErrKind = "internal"
)

// Error is the structured error type returned across the core's public
// boundaries. It carries a taxonomy Kind, a human-readable message, and
// optional structured context (failing node id, retry-after hint, etc).
type Error struct {
	Kind    ErrKind
	Message string
	NodeID  string
	Cause   error

	// RetryAfter is populated for ErrResourceExhausted.
	RetryAfterMillis int64
	// SupportedVersions is populated for ErrVersionMismatch.
	SupportedVersions []string
	// FieldPath is populated for ErrValidation, naming the offending
	// manifest field (e.g. "nodes[2].node_type").
	FieldPath string
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare *Error{Kind: k} sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewNodeExecutionError wraps a node-local failure with its node id, per the
// NodeExecution(node_id, detail) taxonomy entry.
func NewNodeExecutionError(nodeID string, cause error) *Error {
	return &Error{Kind: ErrNodeExecution, Message: cause.Error(), NodeID: nodeID, Cause: cause}
}

// Sentinel kind-only errors for errors.Is comparisons where no extra context
// is needed.
var (
	ErrIsCancelled = &Error{Kind: ErrCancelled, Message: "cancelled"}
	ErrIsTimeout   = &Error{Kind: ErrTimeout, Message: "deadline exceeded"}
)
