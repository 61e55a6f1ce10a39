// Package usage accumulates token consumption per session and per agent.
package usage

import (
	"sync"
)

// Report is a snapshot of accumulated usage
type Report struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Requests     int64 `json:"requests"`
}

type accumulator struct {
	mu     sync.Mutex
	report Report
}

func (a *accumulator) add(input, output int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.InputTokens += int64(input)
	a.report.OutputTokens += int64(output)
	a.report.TotalTokens += int64(input + output)
	a.report.Requests++
}

func (a *accumulator) snapshot() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}

// Tracker records usage keyed by session and by agent.
// Each key has its own lock; unrelated keys never contend.
type Tracker struct {
	sessions sync.Map // session key -> *accumulator
	agents   sync.Map // agent id -> *accumulator
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record adds one model response to both the session and the agent totals.
// Negative counts are clamped to zero so totals never decrease.
func (t *Tracker) Record(sessionKey, agentID string, input, output int) {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	if sessionKey != "" {
		load(&t.sessions, sessionKey).add(input, output)
	}
	if agentID != "" {
		load(&t.agents, agentID).add(input, output)
	}
}

// SessionUsage returns the totals for a session, zero if unknown
func (t *Tracker) SessionUsage(sessionKey string) Report {
	if v, ok := t.sessions.Load(sessionKey); ok {
		return v.(*accumulator).snapshot()
	}
	return Report{}
}

// AgentUsage returns the totals for an agent across sessions, zero if unknown
func (t *Tracker) AgentUsage(agentID string) Report {
	if v, ok := t.agents.Load(agentID); ok {
		return v.(*accumulator).snapshot()
	}
	return Report{}
}

// ResetSession clears a session's totals. Agent totals are kept.
func (t *Tracker) ResetSession(sessionKey string) {
	t.sessions.Delete(sessionKey)
}

func load(m *sync.Map, key string) *accumulator {
	if v, ok := m.Load(key); ok {
		return v.(*accumulator)
	}
	v, _ := m.LoadOrStore(key, &accumulator{})
	return v.(*accumulator)
}
