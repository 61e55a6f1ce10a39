package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
	// SessionKeyKey is the context key for session key
	SessionKeyKey ContextKey = "session_key"
	// ThreadIDKey is the context key for the correlation id shared by a run and its subagents
	ThreadIDKey ContextKey = "thread_id"
	// ParentSessionKeyKey is the context key for the spawning run's session key
	ParentSessionKeyKey ContextKey = "parent_session_key"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID          string
	RunID            string
	AgentID          string
	SessionKey       string
	ThreadID         string
	ParentSessionKey string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// NewThreadID generates a new thread (correlation) ID
func NewThreadID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithThreadID adds a thread ID to the context
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithParentSessionKey adds the parent run's session key to the context
func WithParentSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ParentSessionKeyKey, key)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	return getString(ctx, AgentIDKey)
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	return getString(ctx, SessionKeyKey)
}

// GetThreadID retrieves the thread ID from the context
func GetThreadID(ctx context.Context) string {
	return getString(ctx, ThreadIDKey)
}

// GetParentSessionKey retrieves the parent session key from the context
func GetParentSessionKey(ctx context.Context) string {
	return getString(ctx, ParentSessionKeyKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:          GetTraceID(ctx),
		RunID:            GetRunID(ctx),
		AgentID:          GetAgentID(ctx),
		SessionKey:       GetSessionKey(ctx),
		ThreadID:         GetThreadID(ctx),
		ParentSessionKey: GetParentSessionKey(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.ThreadID != "" {
		ctx = WithThreadID(ctx, tc.ThreadID)
	}
	if tc.ParentSessionKey != "" {
		ctx = WithParentSessionKey(ctx, tc.ParentSessionKey)
	}
	return ctx
}

// NewAgentRunContext stamps a top-level run: fresh run id, and fresh trace
// and thread ids unless the caller already set them.
func NewAgentRunContext(ctx context.Context, agentID, sessionKey string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if GetThreadID(ctx) == "" {
		ctx = WithThreadID(ctx, NewThreadID())
	}
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgentID(ctx, agentID)
	ctx = WithSessionKey(ctx, sessionKey)
	return ctx
}
