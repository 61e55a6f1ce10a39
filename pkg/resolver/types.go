package resolver

import (
	"errors"
	"strings"
)

var (
	// ErrAgentNotFound is returned when no binding, pin or default names a configured agent
	ErrAgentNotFound = errors.New("agent not found")
	// ErrNoModelsConfigured is returned when an identity has neither a primary nor fallback model
	ErrNoModelsConfigured = errors.New("no models configured")
)

// AgentIdentity is the resolved, immutable description of an agent
type AgentIdentity struct {
	ID                    string
	Name                  string
	SystemPrompt          string
	PrimaryModel          string
	FallbackModels        []string
	Skills                []string
	MaxSubagentDepth      int
	AllowedSubagentModels []string

	ToolAllow      []string
	ToolDeny       []string
	MaxTokens      int
	Temperature    float64
	RunTokenBudget int64
	MaxTurns       int
}

// ModelChain is the ordered list of model ids a run may use
type ModelChain []string

// Primary returns the first model, or "" for an empty chain
func (c ModelChain) Primary() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Contains reports whether model is in the chain
func (c ModelChain) Contains(model string) bool {
	for _, m := range c {
		if m == model {
			return true
		}
	}
	return false
}

// Scope is a parsed session key.
//
// Keys look like "<channel>[@<account>]:<peer_kind>:<peer_id>". A leading
// "agent:<id>:" pins the agent regardless of bindings. The peer id keeps
// any remaining colons, so sub-agent keys such as "telegram:dm:42:sub:x"
// parse with peer id "42:sub:x".
type Scope struct {
	Key       string
	Channel   string
	AccountID string
	PeerKind  string
	PeerID    string
	// AgentID is set when the key pins an agent
	AgentID string
}

const agentPrefix = "agent"

// ParseScope splits a session key into its scope. Keys that do not follow
// the layout yield a scope with only Key set; they can still match
// key_pattern bindings and the default agent.
func ParseScope(key string) Scope {
	s := Scope{Key: key}
	parts := strings.Split(key, ":")

	if len(parts) >= 2 && parts[0] == agentPrefix && parts[1] != "" {
		s.AgentID = parts[1]
		parts = parts[2:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return s
	}

	channel := parts[0]
	if at := strings.IndexByte(channel, '@'); at >= 0 {
		s.AccountID = channel[at+1:]
		channel = channel[:at]
	}
	s.Channel = channel

	if len(parts) >= 2 {
		s.PeerKind = parts[1]
	}
	if len(parts) >= 3 {
		s.PeerID = strings.Join(parts[2:], ":")
	}
	return s
}
