package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent derives a child run context.
// It keeps the trace and thread IDs, mints a new run ID and records the
// parent's session key.
func PropagateToSubAgent(ctx context.Context, subAgentID, childSessionKey string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}
	threadID := GetThreadID(ctx)
	if threadID == "" {
		threadID = NewThreadID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithThreadID(newCtx, threadID)
	newCtx = WithRunID(newCtx, NewRunID())
	newCtx = WithAgentID(newCtx, subAgentID)

	if parent := GetSessionKey(ctx); parent != "" {
		newCtx = WithParentSessionKey(newCtx, parent)
	}
	newCtx = WithSessionKey(newCtx, childSessionKey)

	return newCtx
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := logger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.SessionKey != "" {
		lc = lc.Str("session_key", tc.SessionKey)
	}
	if tc.ThreadID != "" {
		lc = lc.Str("thread_id", tc.ThreadID)
	}
	if tc.ParentSessionKey != "" {
		lc = lc.Str("parent_session_key", tc.ParentSessionKey)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a context carrying ctx's tracing values but none of its
// cancellation, for work that must outlive the caller (detached subagents).
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
