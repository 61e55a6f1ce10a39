package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/ranya-engine/pkg/compaction"
)

// Config represents the engine configuration
type Config struct {
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Agents
	Agents       []AgentConfig   `json:"agents" mapstructure:"agents"`
	AgentsFile   string          `json:"agents_file" mapstructure:"agents_file"`
	DefaultAgent string          `json:"default_agent" mapstructure:"default_agent"`
	Bindings     []BindingConfig `json:"bindings" mapstructure:"bindings"`

	// Models
	Models    ModelsConfig    `json:"models" mapstructure:"models"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	Failover   FailoverConfig    `json:"failover" mapstructure:"failover"`
	Compaction compaction.Policy `json:"compaction" mapstructure:"compaction"`
	Subagents  SubagentsConfig   `json:"subagents" mapstructure:"subagents"`
	Events     EventsConfig      `json:"events" mapstructure:"events"`
	Execution  ExecutionConfig   `json:"execution" mapstructure:"execution"`
	Telemetry  TelemetryConfig   `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig represents an agent configuration
type AgentConfig struct {
	ID                    string           `json:"id" yaml:"id" mapstructure:"id"`
	Name                  string           `json:"name" yaml:"name" mapstructure:"name"`
	SystemPrompt          string           `json:"system_prompt" yaml:"system_prompt" mapstructure:"system_prompt"`
	Model                 string           `json:"model" yaml:"model" mapstructure:"model"`
	FallbackModels        []string         `json:"fallback_models" yaml:"fallback_models" mapstructure:"fallback_models"`
	Skills                []string         `json:"skills" yaml:"skills" mapstructure:"skills"`
	MaxSubagentDepth      int              `json:"max_subagent_depth" yaml:"max_subagent_depth" mapstructure:"max_subagent_depth"`
	AllowedSubagentModels []string         `json:"allowed_subagent_models" yaml:"allowed_subagent_models" mapstructure:"allowed_subagent_models"`
	Tools                 ToolPolicyConfig `json:"tools" yaml:"tools" mapstructure:"tools"`
	MaxTokens             int              `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature           float64          `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	RunTokenBudget        int64            `json:"run_token_budget" yaml:"run_token_budget" mapstructure:"run_token_budget"`
	MaxTurns              int              `json:"max_turns" yaml:"max_turns" mapstructure:"max_turns"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" yaml:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" yaml:"deny" mapstructure:"deny"`
}

// BindingConfig routes session keys to an agent. Empty fields match anything.
type BindingConfig struct {
	Agent      string `json:"agent" mapstructure:"agent"`
	Channel    string `json:"channel" mapstructure:"channel"`
	AccountID  string `json:"account_id" mapstructure:"account_id"`
	PeerKind   string `json:"peer_kind" mapstructure:"peer_kind"`
	PeerID     string `json:"peer_id" mapstructure:"peer_id"`
	KeyPattern string `json:"key_pattern" mapstructure:"key_pattern"` // path.Match glob over the raw key
}

// ModelsConfig holds model configuration
type ModelsConfig struct {
	Aliases map[string]string      `json:"aliases" mapstructure:"aliases"`
	Catalog map[string]ModelConfig `json:"catalog" mapstructure:"catalog"`
	// DefaultContextWindow applies to models missing from the catalog
	DefaultContextWindow int `json:"default_context_window" mapstructure:"default_context_window"`
}

// ModelConfig describes one model id
type ModelConfig struct {
	Provider      string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	ContextWindow int    `json:"context_window" mapstructure:"context_window"`
	// Name overrides the id sent to the provider
	Name string `json:"name" mapstructure:"name"`
}

// ProvidersConfig holds provider credentials
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
	Gemini    ProviderConfig `json:"gemini" mapstructure:"gemini"`
}

// ProviderConfig holds one provider's credentials
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// Configured reports whether the provider has a key
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// FailoverConfig holds retry settings. Durations are in milliseconds.
type FailoverConfig struct {
	TransientRetries    int     `json:"transient_retries" mapstructure:"transient_retries"`
	BaseDelayMs         int     `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs          int     `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	Jitter              bool    `json:"jitter" mapstructure:"jitter"`
	MaxRetryAfterMs     int     `json:"max_retry_after_ms" mapstructure:"max_retry_after_ms"`
	RateLimitBudgetMs   int     `json:"rate_limit_budget_ms" mapstructure:"rate_limit_budget_ms"`
	DefaultRetryAfterMs int     `json:"default_retry_after_ms" mapstructure:"default_retry_after_ms"`
}

// SubagentsConfig holds subagent spawning settings
type SubagentsConfig struct {
	Mode                string `json:"mode" mapstructure:"mode"` // await, detach
	RetentionMinutes    int    `json:"retention_minutes" mapstructure:"retention_minutes"`
	JanitorSchedule     string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
	MaxChildrenPerRun   int    `json:"max_children_per_run" mapstructure:"max_children_per_run"`
	DefaultMaxDepth     int    `json:"default_max_depth" mapstructure:"default_max_depth"`
	AnnounceCompletions bool   `json:"announce_completions" mapstructure:"announce_completions"`
}

// EventsConfig holds event bus settings
type EventsConfig struct {
	BufferSize int `json:"buffer_size" mapstructure:"buffer_size"`
}

// ExecutionConfig holds execution loop limits
type ExecutionConfig struct {
	MaxTurns           int `json:"max_turns" mapstructure:"max_turns"`
	MaxParallelTools   int `json:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	MaxOverflowRetries int `json:"max_overflow_retries" mapstructure:"max_overflow_retries"`
	MaxTokens          int `json:"max_tokens" mapstructure:"max_tokens"`

	// WorkspaceRoot enables the file tools when set
	WorkspaceRoot     string `json:"workspace_root" mapstructure:"workspace_root"`
	WorkspaceReadOnly bool   `json:"workspace_read_only" mapstructure:"workspace_read_only"`
}

// TelemetryConfig holds tracing and audit settings
type TelemetryConfig struct {
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	AuditPath   string `json:"audit_path" mapstructure:"audit_path"`
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	// SampleRatio is the fraction of runs traced (0 means all)
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// Subagent modes
const (
	SubagentModeAwait  = "await"
	SubagentModeDetach = "detach"
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		DefaultAgent: "default",
		Agents: []AgentConfig{
			{
				ID:               "default",
				Name:             "Default Agent",
				SystemPrompt:     "You are a helpful assistant.",
				Model:            "sonnet",
				FallbackModels:   []string{"gpt4o"},
				MaxSubagentDepth: 2,
				MaxTokens:        4096,
				Temperature:      0.7,
				Tools: ToolPolicyConfig{
					Allow: []string{"*"},
				},
			},
		},
		Models: ModelsConfig{
			Aliases: map[string]string{
				"opus":   "claude-opus-4",
				"sonnet": "claude-sonnet-4",
				"gpt4o":  "gpt-4o",
				"flash":  "gemini-2.0-flash",
			},
			Catalog: map[string]ModelConfig{
				"claude-opus-4":    {Provider: "anthropic", ContextWindow: 200000},
				"claude-sonnet-4":  {Provider: "anthropic", ContextWindow: 200000},
				"gpt-4o":           {Provider: "openai", ContextWindow: 128000},
				"gemini-2.0-flash": {Provider: "gemini", ContextWindow: 1000000},
			},
			DefaultContextWindow: 128000,
		},
		Failover: FailoverConfig{
			TransientRetries:    2,
			BaseDelayMs:         500,
			MaxDelayMs:          10000,
			BackoffMultiplier:   2.0,
			Jitter:              true,
			MaxRetryAfterMs:     30000,
			RateLimitBudgetMs:   60000,
			DefaultRetryAfterMs: 2000,
		},
		Compaction: compaction.DefaultPolicy(),
		Subagents: SubagentsConfig{
			Mode:              SubagentModeAwait,
			RetentionMinutes:  60,
			JanitorSchedule:   "@every 5m",
			MaxChildrenPerRun: 8,
			DefaultMaxDepth:   2,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Execution: ExecutionConfig{
			MaxTurns:           25,
			MaxParallelTools:   4,
			ToolTimeoutSeconds: 120,
			MaxOverflowRetries: 2,
			MaxTokens:          4096,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ranya-engine",
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Providers.Anthropic.APIKey = maskKey(c.Providers.Anthropic.APIKey)
	masked.Providers.OpenAI.APIKey = maskKey(c.Providers.OpenAI.APIKey)
	masked.Providers.Gemini.APIKey = maskKey(c.Providers.Gemini.APIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Agent returns the agent with the given id
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// ResolveModel expands an alias. Unknown names are returned unchanged.
func (c *Config) ResolveModel(name string) string {
	name = strings.TrimSpace(name)
	if target, ok := c.Models.Aliases[name]; ok && target != "" {
		return target
	}
	return name
}

// ContextWindow returns the context window of a model id
func (c *Config) ContextWindow(model string) int {
	if m, ok := c.Models.Catalog[model]; ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return c.Models.DefaultContextWindow
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: ID is required", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("agent %s: duplicate ID", agent.ID)
		}
		seen[agent.ID] = true
		if agent.Model == "" && len(agent.FallbackModels) == 0 {
			return fmt.Errorf("agent %s: model is required", agent.ID)
		}
		if agent.MaxSubagentDepth < 0 {
			return fmt.Errorf("agent %s: max_subagent_depth must be >= 0", agent.ID)
		}
		if agent.RunTokenBudget < 0 {
			return fmt.Errorf("agent %s: run_token_budget must be >= 0", agent.ID)
		}
	}

	if c.DefaultAgent != "" && !seen[c.DefaultAgent] {
		return fmt.Errorf("default_agent %s is not a configured agent", c.DefaultAgent)
	}
	for i, b := range c.Bindings {
		if b.Agent == "" {
			return fmt.Errorf("binding %d: agent is required", i)
		}
		if !seen[b.Agent] {
			return fmt.Errorf("binding %d: unknown agent %s", i, b.Agent)
		}
	}

	for id, m := range c.Models.Catalog {
		switch m.Provider {
		case "anthropic", "openai", "gemini":
		default:
			return fmt.Errorf("model %s: invalid provider %s (must be: anthropic, openai, gemini)", id, m.Provider)
		}
		if m.ContextWindow < 0 {
			return fmt.Errorf("model %s: context_window must be >= 0", id)
		}
	}

	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("compaction: %w", err)
	}

	if c.Subagents.Mode != "" && c.Subagents.Mode != SubagentModeAwait && c.Subagents.Mode != SubagentModeDetach {
		return fmt.Errorf("invalid subagents mode: %s", c.Subagents.Mode)
	}
	if c.Execution.MaxParallelTools < 0 || c.Execution.MaxTurns < 0 || c.Execution.MaxOverflowRetries < 0 {
		return fmt.Errorf("execution limits must be >= 0")
	}

	return nil
}
