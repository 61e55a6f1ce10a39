package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/ranya-engine/pkg/llm"
)

// ToolContext carries run information into a tool call
type ToolContext struct {
	SessionKey string
	AgentID    string
	RunID      string
	ThreadID   string
	CallID     string
	Depth      int
	Policy     *ToolPolicy
}

// ToolExecutor runs a named tool. Implementations must be safe for
// concurrent calls; the loop fans calls of one turn out in parallel.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}, tc ToolContext) (string, error)
}

// ToolCatalog lists the tools a model may be offered
type ToolCatalog interface {
	Schemas() []llm.ToolSchema
}

var (
	// ErrToolNotFound is returned for calls to unregistered tools
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolDenied is returned when the agent's policy blocks a tool
	ErrToolDenied = errors.New("tool not allowed by agent policy")
	// ErrToolTimeout is returned when a handler outlives its timeout
	ErrToolTimeout = errors.New("tool execution timeout")
)

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow"` // "*" allows every tool
	Deny  []string `json:"deny"`  // overrides allow
}

// IsToolAllowed checks a tool name against the policy.
// A nil policy or an empty allow list allows everything not denied.
func (tp *ToolPolicy) IsToolAllowed(name string) bool {
	if tp == nil {
		return true
	}
	for _, denied := range tp.Deny {
		if denied == name || denied == "*" {
			return false
		}
	}
	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == name || allowed == "*" {
			return true
		}
	}
	return false
}

// ToolHandler is the function signature for tool execution.
// Non-string outputs are rendered as JSON.
type ToolHandler func(ctx context.Context, args map[string]interface{}, tc ToolContext) (interface{}, error)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Timeout overrides the registry default when positive
	Timeout time.Duration `json:"timeout,omitempty"`
}

type registeredTool struct {
	def       ToolDefinition
	schema    *gojsonschema.Schema
	rawSchema map[string]interface{}
}

// ToolRegistry is the in-process ToolExecutor and ToolCatalog
type ToolRegistry struct {
	tools   map[string]*registeredTool
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// NewToolRegistry creates a registry with a default per-call timeout
func NewToolRegistry(timeout time.Duration, logger zerolog.Logger) *ToolRegistry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolRegistry{
		tools:   make(map[string]*registeredTool),
		timeout: timeout,
		logger:  logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds or replaces a tool
func (tr *ToolRegistry) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	raw := parametersSchema(def.Parameters)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	tr.mu.Lock()
	tr.tools[def.Name] = &registeredTool{def: def, schema: schema, rawSchema: raw}
	tr.mu.Unlock()

	tr.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool
func (tr *ToolRegistry) Unregister(name string) {
	tr.mu.Lock()
	delete(tr.tools, name)
	tr.mu.Unlock()
}

// Names returns the registered tool names, sorted
func (tr *ToolRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tools))
	for name := range tr.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns every tool as a model-facing schema, sorted by name
func (tr *ToolRegistry) Schemas() []llm.ToolSchema {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(tr.tools))
	for _, t := range tr.tools {
		out = append(out, llm.ToolSchema{
			Name:        t.def.Name,
			Description: t.def.Description,
			Parameters:  t.rawSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute checks policy, validates arguments and runs the handler under a timeout.
// A handler that ignores its context keeps running in the background, but
// its result is discarded once ctx ends or the timeout fires.
func (tr *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}, tc ToolContext) (string, error) {
	logger := tr.logger.With().Str("tool", name).Str("session_key", tc.SessionKey).Logger()

	if !tc.Policy.IsToolAllowed(name) {
		logger.Warn().Str("agent_id", tc.AgentID).Msg("Tool execution blocked by policy")
		return "", fmt.Errorf("%s: %w", name, ErrToolDenied)
	}

	tr.mu.RLock()
	tool := tr.tools[name]
	tr.mu.RUnlock()
	if tool == nil {
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateArguments(tool.schema, args); err != nil {
		logger.Debug().Err(err).Msg("Argument validation failed")
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	timeout := tr.timeout
	if tool.def.Timeout > 0 {
		timeout = tool.def.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := tool.def.Handler(callCtx, args, tc)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		return renderOutput(o.out)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn().Dur("timeout", timeout).Msg("Tool execution timeout")
		return "", fmt.Errorf("%s after %v: %w", name, timeout, ErrToolTimeout)
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

// parametersSchema builds the JSON Schema object for a parameter list
func parametersSchema(params []ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		p := map[string]interface{}{"type": param.Type}
		if param.Description != "" {
			p["description"] = param.Description
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		properties[param.Name] = p
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

func renderOutput(out interface{}) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(data), nil
}
