// Package audit emits structured JSON audit events for every
// security-relevant action: session lifecycle, tool calls, resource
// reads, credential and token mutations. Events carry metadata only;
// credential values and full token secrets never appear here.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpSessionOpen      Operation = "session.open"
	OpSessionClose     Operation = "session.close"
	OpToolCall         Operation = "tool.call"
	OpResourceRead     Operation = "resource.read"
	OpAuthFailure      Operation = "auth.failure"
	OpTenantCreate     Operation = "tenant.create"
	OpTenantDeactivate Operation = "tenant.deactivate"
	OpTokenCreate      Operation = "token.create"
	OpTokenRevoke      Operation = "token.revoke"
	OpCredentialSet    Operation = "credential.set"
)

// Event represents an audit log entry
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	Operation  Operation              `json:"operation"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	TokenID    string                 `json:"token_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Tool       string                 `json:"tool,omitempty"`
	Resource   string                 `json:"resource,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
	auditFile     *os.File
)

// Default returns the default audit logger. Before InitFile it writes
// JSON lines to stdout only.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Stdout, true)
	}
	return defaultLogger
}

// InitFile routes the default audit trail to audit.log under logDir,
// JSON lines, in addition to stdout. Events logged before InitFile go
// to stdout only.
func InitFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if auditFile != nil {
		_ = auditFile.Close()
	}
	auditFile = f
	defaultLogger = New(io.MultiWriter(os.Stdout, f), true)
	return nil
}

// Close flushes and closes the audit log file, if one was opened
func Close() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if auditFile == nil {
		return nil
	}
	err := auditFile.Close()
	auditFile = nil
	defaultLogger = nil
	return err
}

// New creates an audit logger writing JSON lines to w
func New(w io.Writer, enabled bool) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
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

	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", maskToken(event.TokenID)))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Tool != "" {
		attrs = append(attrs, slog.String("tool", event.Tool))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", event.DurationMs))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogSuccess records a successful operation
func (l *Logger) LogSuccess(op Operation, tenantID, tokenID string) {
	l.Log(&Event{
		Operation: op,
		TenantID:  tenantID,
		TokenID:   tokenID,
		Success:   true,
	})
}

// LogFailure records a failed operation
func (l *Logger) LogFailure(op Operation, tenantID, tokenID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: op,
		TenantID:  tenantID,
		TokenID:   tokenID,
		Success:   false,
		Error:     errMsg,
	})
}

func maskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..."
}

// Convenience functions using default logger

func Log(event *Event) {
	Default().Log(event)
}

func LogSuccess(op Operation, tenantID, tokenID string) {
	Default().LogSuccess(op, tenantID, tokenID)
}

func LogFailure(op Operation, tenantID, tokenID string, err error) {
	Default().LogFailure(op, tenantID, tokenID, err)
}
