package events

import (
	"time"
)

// Type tags an Event
type Type string

const (
	TypeTextDelta         Type = "text_delta"
	TypeToolCallStart     Type = "tool_call_start"
	TypeToolCallResult    Type = "tool_call_result"
	TypeModelSwitch       Type = "model_switch"
	TypeCompactionApplied Type = "compaction_applied"
	TypeError             Type = "error"
	TypeUsage             Type = "usage"
	TypeComplete          Type = "complete"
)

// ErrorKind names the error carried by an Error event
type ErrorKind string

const (
	ErrorAborted            ErrorKind = "aborted"
	ErrorProvider           ErrorKind = "provider"
	// ErrorStreamDiscarded voids the text deltas of the current model call.
	// The run continues; the next call streams its reply from the start.
	ErrorStreamDiscarded    ErrorKind = "stream_discarded"
	ErrorChainExhausted     ErrorKind = "chain_exhausted"
	ErrorDepthLimitExceeded ErrorKind = "depth_limit_exceeded"
	ErrorModelNotAllowed    ErrorKind = "model_not_allowed"
	ErrorBudgetExhausted    ErrorKind = "budget_exhausted"
	ErrorMaxTurns           ErrorKind = "max_turns"
	ErrorInternal           ErrorKind = "internal"
)

// Event is one observable step of a run. Exactly one payload field is set,
// matching Type; TextDelta events use Text.
type Event struct {
	Type       Type      `json:"type"`
	SessionKey string    `json:"session_key"`
	RunID      string    `json:"run_id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`

	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallInfo   `json:"tool_call,omitempty"`
	Switch     *ModelSwitch    `json:"switch,omitempty"`
	Compaction *CompactionInfo `json:"compaction,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	Usage      *UsageInfo      `json:"usage,omitempty"`
	Complete   *CompleteInfo   `json:"complete,omitempty"`
}

// ToolCallInfo describes a tool call at start (no result yet) or at completion
type ToolCallInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
}

// ModelSwitch records a failover from one chain entry to the next
type ModelSwitch struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// CompactionInfo records one compaction pass
type CompactionInfo struct {
	Trigger      string   `json:"trigger"` // guard or overflow
	Strategies   []string `json:"strategies"`
	TokensBefore int      `json:"tokens_before"`
	TokensAfter  int      `json:"tokens_after"`
}

// ErrorInfo describes a run-level error
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// UsageInfo reports token usage of one model response
type UsageInfo struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
}

// CompleteInfo summarizes the terminal state of a run
type CompleteInfo struct {
	Response  string `json:"response"`
	Model     string `json:"model,omitempty"`
	ToolCalls int    `json:"tool_calls"`
	Aborted   bool   `json:"aborted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends a run's stream
func (e Event) IsTerminal() bool {
	return e.Type == TypeComplete
}
