// Package resolver maps session keys to agent identities and model chains.
//
// A Resolver is built from one configuration snapshot and never changes;
// Store swaps whole resolvers when the configuration reloads.
package resolver

import (
	"fmt"
	"path"
	"strings"

	"github.com/harun/ranya-engine/internal/config"
)

type binding struct {
	agent      string
	channel    string
	accountID  string
	peerKind   string
	peerID     string
	keyPattern string
}

// Resolver answers identity and model-chain lookups against one config
type Resolver struct {
	agents        map[string]AgentIdentity
	order         []string
	bindings      []binding
	defaultAgent  string
	aliases       map[string]string
	windows       map[string]int
	defaultWindow int
}

// New builds a resolver from cfg. Bindings naming unknown agents or
// carrying malformed key patterns are rejected.
func New(cfg *config.Config) (*Resolver, error) {
	r := &Resolver{
		agents:        make(map[string]AgentIdentity, len(cfg.Agents)),
		defaultAgent:  cfg.DefaultAgent,
		aliases:       make(map[string]string, len(cfg.Models.Aliases)),
		windows:       make(map[string]int, len(cfg.Models.Catalog)),
		defaultWindow: cfg.Models.DefaultContextWindow,
	}

	for k, v := range cfg.Models.Aliases {
		r.aliases[k] = v
	}
	for id, m := range cfg.Models.Catalog {
		r.windows[id] = m.ContextWindow
	}

	for _, a := range cfg.Agents {
		if _, dup := r.agents[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %s", a.ID)
		}
		r.agents[a.ID] = identityFromConfig(a, cfg.Subagents.DefaultMaxDepth)
		r.order = append(r.order, a.ID)
	}

	if r.defaultAgent != "" {
		if _, ok := r.agents[r.defaultAgent]; !ok {
			return nil, fmt.Errorf("default agent %s: %w", r.defaultAgent, ErrAgentNotFound)
		}
	}

	for i, b := range cfg.Bindings {
		if _, ok := r.agents[b.Agent]; !ok {
			return nil, fmt.Errorf("binding %d: agent %s: %w", i, b.Agent, ErrAgentNotFound)
		}
		if b.KeyPattern != "" {
			if _, err := path.Match(b.KeyPattern, ""); err != nil {
				return nil, fmt.Errorf("binding %d: invalid key_pattern %q: %w", i, b.KeyPattern, err)
			}
		}
		r.bindings = append(r.bindings, binding{
			agent:      b.Agent,
			channel:    normalize(b.Channel),
			accountID:  normalize(b.AccountID),
			peerKind:   normalize(b.PeerKind),
			peerID:     strings.TrimSpace(b.PeerID),
			keyPattern: b.KeyPattern,
		})
	}

	return r, nil
}

func identityFromConfig(a config.AgentConfig, defaultDepth int) AgentIdentity {
	depth := a.MaxSubagentDepth
	if depth == 0 {
		depth = defaultDepth
	}
	return AgentIdentity{
		ID:                    a.ID,
		Name:                  a.Name,
		SystemPrompt:          a.SystemPrompt,
		PrimaryModel:          a.Model,
		FallbackModels:        append([]string(nil), a.FallbackModels...),
		Skills:                append([]string(nil), a.Skills...),
		MaxSubagentDepth:      depth,
		AllowedSubagentModels: append([]string(nil), a.AllowedSubagentModels...),
		ToolAllow:             append([]string(nil), a.Tools.Allow...),
		ToolDeny:              append([]string(nil), a.Tools.Deny...),
		MaxTokens:             a.MaxTokens,
		Temperature:           a.Temperature,
		RunTokenBudget:        a.RunTokenBudget,
		MaxTurns:              a.MaxTurns,
	}
}

// Resolve returns the agent for a session key
func (r *Resolver) Resolve(sessionKey string) (AgentIdentity, error) {
	return r.ResolveScope(ParseScope(sessionKey))
}

// ResolveScope evaluates a pinned agent, then bindings in order, then the
// default agent.
func (r *Resolver) ResolveScope(s Scope) (AgentIdentity, error) {
	if s.AgentID != "" {
		return r.Agent(s.AgentID)
	}

	for _, b := range r.bindings {
		if b.matches(s) {
			return r.agents[b.agent], nil
		}
	}

	if r.defaultAgent != "" {
		return r.agents[r.defaultAgent], nil
	}
	return AgentIdentity{}, fmt.Errorf("session %s: %w", s.Key, ErrAgentNotFound)
}

func (b binding) matches(s Scope) bool {
	if b.channel != "" && b.channel != normalize(s.Channel) {
		return false
	}
	if b.accountID != "" {
		if b.accountID == "*" {
			if s.AccountID == "" {
				return false
			}
		} else if b.accountID != normalize(s.AccountID) {
			return false
		}
	}
	if b.peerKind != "" && b.peerKind != normalize(s.PeerKind) {
		return false
	}
	if b.peerID != "" && b.peerID != s.PeerID {
		return false
	}
	if b.keyPattern != "" {
		ok, err := path.Match(b.keyPattern, s.Key)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Agent returns the identity with the given id
func (r *Resolver) Agent(id string) (AgentIdentity, error) {
	a, ok := r.agents[id]
	if !ok {
		return AgentIdentity{}, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// Agents returns every identity in configuration order
func (r *Resolver) Agents() []AgentIdentity {
	out := make([]AgentIdentity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// ModelChain returns the primary model followed by fallbacks, aliases
// expanded and duplicates dropped at their later positions.
func (r *Resolver) ModelChain(identity AgentIdentity) (ModelChain, error) {
	candidates := make([]string, 0, 1+len(identity.FallbackModels))
	candidates = append(candidates, identity.PrimaryModel)
	candidates = append(candidates, identity.FallbackModels...)

	chain := make(ModelChain, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		m = r.ResolveModel(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		chain = append(chain, m)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("agent %s: %w", identity.ID, ErrNoModelsConfigured)
	}
	return chain, nil
}

// ResolveModel expands an alias. Unknown names are returned trimmed.
func (r *Resolver) ResolveModel(name string) string {
	name = strings.TrimSpace(name)
	if target, ok := r.aliases[name]; ok && target != "" {
		return target
	}
	return name
}

// ContextWindow returns the catalog context window for a model id
func (r *Resolver) ContextWindow(model string) int {
	if w, ok := r.windows[model]; ok && w > 0 {
		return w
	}
	return r.defaultWindow
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
