package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harun/ranya-engine/pkg/abort"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/resolver"
	"github.com/harun/ranya-engine/pkg/usage"
)

// State is a step of the execution loop
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateCompacting     State = "compacting"
	StateFailing        State = "failing"
	StateAborted        State = "aborted"
	StateComplete       State = "complete"
)

// RunParams contains input parameters for one run
type RunParams struct {
	SessionKey string `json:"session_key"`
	// Prompt is appended to Transcript as a user message when non-empty
	Prompt string `json:"prompt,omitempty"`
	// Transcript is the history handed in by the session store. It is copied.
	Transcript     llm.Transcript    `json:"transcript,omitempty"`
	DynamicContext map[string]string `json:"dynamic_context,omitempty"`
	SkillFragments []string          `json:"skill_fragments,omitempty"`
	MemoryContext  string            `json:"memory_context,omitempty"`

	// AgentID overrides binding resolution
	AgentID string `json:"agent_id,omitempty"`
	// Model replaces the agent's chain with a single model
	Model string `json:"model,omitempty"`
}

// RunContext is the state of one run shared with tools and the spawner.
// The transcript is owned by the run goroutine and is not safe to read
// while the run is active.
type RunContext struct {
	SessionKey string
	RunID      string
	ThreadID   string
	ParentKey  string
	AgentID    string

	Identity resolver.AgentIdentity
	Chain    resolver.ModelChain
	// Resolver is the configuration snapshot the run started with
	Resolver *resolver.Resolver

	Depth    int
	MaxDepth int
	Budget   *Budget
	Token    *abort.Token

	Transcript llm.Transcript
	StartedAt  time.Time
}

// CanSpawn reports whether a child would stay within the depth limit
func (rc *RunContext) CanSpawn() bool {
	return rc.Depth+1 <= rc.MaxDepth
}

// ToolCallRecord describes one executed tool call
type ToolCallRecord struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result"`
	IsError   bool                   `json:"is_error,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// AgentRunResult is the terminal output of a run
type AgentRunResult struct {
	RunID      string           `json:"run_id"`
	SessionKey string           `json:"session_key"`
	AgentID    string           `json:"agent_id"`
	Response   string           `json:"response"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	Usage      usage.Report     `json:"usage"`
	Transcript llm.Transcript   `json:"transcript,omitempty"`
	// Model is the chain entry that produced the last response
	Model   string `json:"model,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`
	Err     error  `json:"-"`
}

// Budget is a token allowance shared by a run and its sub-agents.
// A nil Budget is unlimited.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget of limit tokens, or nil when limit is not positive
func NewBudget(limit int64) *Budget {
	if limit <= 0 {
		return nil
	}
	return &Budget{limit: limit}
}

// Consume spends n tokens and reports whether the budget is now exhausted
func (b *Budget) Consume(n int) bool {
	if b == nil {
		return false
	}
	return b.used.Add(int64(n)) >= b.limit
}

// Exhausted reports whether nothing remains
func (b *Budget) Exhausted() bool {
	if b == nil {
		return false
	}
	return b.used.Load() >= b.limit
}

// Remaining returns the unspent tokens, -1 for an unlimited budget
func (b *Budget) Remaining() int64 {
	if b == nil {
		return -1
	}
	if left := b.limit - b.used.Load(); left > 0 {
		return left
	}
	return 0
}

// SpawnToolName is the tool the model calls to delegate to a sub-agent
const SpawnToolName = "spawn_subagent"

// SpawnRequest asks for a child run
type SpawnRequest struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
	// Model optionally pins the child to one model
	Model string `json:"model,omitempty"`
}

// Spawner creates child runs on behalf of a parent run.
// Returned errors are fatal to the parent; a child's own failure is
// reported in the result.
type Spawner interface {
	Spawn(ctx context.Context, parent *RunContext, req SpawnRequest) (AgentRunResult, error)
}

// ChildParams describes a child run prepared by a Spawner
type ChildParams struct {
	SessionKey string
	Identity   resolver.AgentIdentity
	Chain      resolver.ModelChain
	Task       string
	// Detached children get their own abort token instead of one derived
	// from the parent, so they outlive it.
	Detached bool
}
