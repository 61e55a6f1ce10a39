package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/ranya-engine/internal/tracing"
)

// AuditEvent is one line of the audit log. Runs, spawn decisions and config
// reloads are audited.
type AuditEvent struct {
	Kind       string                 `json:"kind"`   // run, subagent, config
	Action     string                 `json:"action"` // e.g. run:completed, spawn, reload
	Status     string                 `json:"status"`
	SessionKey string                 `json:"session_key,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditLogger appends audit events as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process audit logger. It discards events until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the audit log at path, closing the previous file
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	setAuditLogger(NewAuditLogger(file, file))
	return nil
}

// NewAuditLogger writes events to w. closer may be nil.
func NewAuditLogger(w io.Writer, closer io.Closer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
		closer: closer,
	}
}

func setAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	prev := auditInst
	auditInst = a
	auditMu.Unlock()
	_ = prev.Close()
}

// Record writes event, filling run and trace ids from ctx when unset. With a
// live span the event is also added to it.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = tracing.GetRunID(ctx)
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.session_key", event.SessionKey),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("kind", event.Kind).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.SessionKey != "" {
		entry = entry.Str("session_key", event.SessionKey)
	}
	if event.RunID != "" {
		entry = entry.Str("run_id", event.RunID)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close releases the underlying file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.Nop()
	return err
}

// RecordRunAudit records a run reaching a terminal state
func RecordRunAudit(ctx context.Context, sessionKey, agentID, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:       "run",
		Action:     "run:" + status,
		Status:     status,
		SessionKey: sessionKey,
		Metadata:   withField(metadata, "agent_id", agentID),
	})
}

// RecordSpawnAudit records a subagent spawn decision made for parentKey
func RecordSpawnAudit(ctx context.Context, parentKey, childAgentID, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:       "subagent",
		Action:     "spawn",
		Status:     status,
		SessionKey: parentKey,
		Metadata:   withField(metadata, "child_agent_id", childAgentID),
	})
}

// RecordConfigAudit records a configuration change such as a hot reload.
// source is the config file path.
func RecordConfigAudit(ctx context.Context, action, source, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     "config",
		Action:   action,
		Status:   status,
		Metadata: withField(metadata, "source", source),
	})
}

func withField(m map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
