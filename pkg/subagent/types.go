package subagent

import "time"

// RunParams contains parameters for registering a child run
type RunParams struct {
	ParentSessionKey string `json:"parent_session_key"`
	AgentID          string `json:"agent_id"`
	Task             string `json:"task"`
	Model            string `json:"model,omitempty"`
	Depth            int    `json:"depth"`
	Detached         bool   `json:"detached,omitempty"`
}

// RunRecord represents a child run
type RunRecord struct {
	ID               string     `json:"id"`
	ParentSessionKey string     `json:"parent_session_key"`
	ChildSessionKey  string     `json:"child_session_key"`
	AgentID          string     `json:"agent_id"`
	Task             string     `json:"task"`
	Model            string     `json:"model,omitempty"`
	Depth            int        `json:"depth"`
	Detached         bool       `json:"detached,omitempty"`
	RunID            string     `json:"run_id,omitempty"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// RunStatus represents the execution state of a child run
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Stats contains registry statistics
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
}

// Listener observes record changes. It receives a copy.
type Listener func(record RunRecord)
