// Package audit records a trail of security-sensitive administrative
// operations — token issuance/revocation and node-type registration — as
// JSON lines written to stdout, separate from the ambient structured logs internal/logger
// and internal/observability emit for operational diagnostics. The two
// overlap in mechanism (both ride on slog) but not in purpose: logs are for
// understanding runtime behavior, the audit trail is for answering "who did
// what, when" after the fact.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation identifies the kind of auditable action.
type Operation string

const (
	OpTokenCreate      Operation = "token.create"
	OpTokenRevoke      Operation = "token.revoke"
	OpNodeTypeRegister Operation = "node_type.register"
)

// Event is one audit log entry.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	Operation  Operation              `json:"operation"`
	TokenID    string                 `json:"token_id,omitempty"`
	TokenScope string                 `json:"token_scope,omitempty"`
	NodeType   string                 `json:"node_type,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Logger writes Events as structured log lines.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger, enabled unless silenced via
// SetEnabled.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New returns an audit Logger writing JSON lines to stdout.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", maskToken(event.TokenID)))
	}
	if event.TokenScope != "" {
		attrs = append(attrs, slog.String("token_scope", event.TokenScope))
	}
	if event.NodeType != "" {
		attrs = append(attrs, slog.String("node_type", event.NodeType))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op Operation, tokenID, tokenScope, nodeType string) {
	l.Log(&Event{
		Operation:  op,
		TokenID:    tokenID,
		TokenScope: tokenScope,
		NodeType:   nodeType,
		Success:    true,
	})
}

// LogFailure records a failed operation.
func (l *Logger) LogFailure(op Operation, tokenID, tokenScope, nodeType string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation:  op,
		TokenID:    tokenID,
		TokenScope: tokenScope,
		NodeType:   nodeType,
		Success:    false,
		Error:      errMsg,
	})
}

func maskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..."
}

// Convenience functions using the default logger.

func Log(event *Event) { Default().Log(event) }

func LogSuccess(op Operation, tokenID, tokenScope, nodeType string) {
	Default().LogSuccess(op, tokenID, tokenScope, nodeType)
}

func LogFailure(op Operation, tokenID, tokenScope, nodeType string, err error) {
	Default().LogFailure(op, tokenID, tokenScope, nodeType, err)
}
