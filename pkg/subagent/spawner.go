// Package subagent spawns depth-bounded child runs on behalf of a parent run
// and tracks them until they are pruned.
package subagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/internal/tracing"
	"github.com/harun/ranya-engine/pkg/agent"
	"github.com/harun/ranya-engine/pkg/resolver"
)

// ErrTooManyChildren is returned when a parent already has the maximum
// number of active children. It is reported to the model as a tool error.
var ErrTooManyChildren = errors.New("too many active subagents")

// ChildRunner starts child runs; *agent.Runner implements it
type ChildRunner interface {
	RunChild(ctx context.Context, parent *agent.RunContext, child agent.ChildParams) (*agent.Run, error)
}

// Config holds spawner configuration
type Config struct {
	Runner   ChildRunner
	Registry *Registry
	// Mode is config.SubagentModeAwait (default) or config.SubagentModeDetach
	Mode string
	// MaxChildrenPerRun bounds active children per parent session; 0 is unlimited
	MaxChildrenPerRun int
	Logger            zerolog.Logger
}

// Spawner implements agent.Spawner
type Spawner struct {
	runner      ChildRunner
	registry    *Registry
	detach      bool
	maxChildren int
	logger      zerolog.Logger
}

// NewSpawner creates a spawner
func NewSpawner(cfg Config) (*Spawner, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("child runner is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(RegistryConfig{Logger: cfg.Logger})
	}

	var detach bool
	switch cfg.Mode {
	case "", config.SubagentModeAwait:
	case config.SubagentModeDetach:
		detach = true
	default:
		return nil, fmt.Errorf("unknown subagent mode %q", cfg.Mode)
	}

	return &Spawner{
		runner:      cfg.Runner,
		registry:    cfg.Registry,
		detach:      detach,
		maxChildren: cfg.MaxChildrenPerRun,
		logger:      cfg.Logger.With().Str("component", "subagent").Logger(),
	}, nil
}

// Registry returns the registry the spawner records into
func (s *Spawner) Registry() *Registry {
	return s.registry
}

// Spawn validates and starts a child run of req.AgentID below parent.
//
// The depth check runs before anything else, so a rejected spawn leaves no
// record, token or run behind. In await mode the child's terminal result is
// returned; in detach mode Spawn returns as soon as the child is running.
func (s *Spawner) Spawn(ctx context.Context, parent *agent.RunContext, req agent.SpawnRequest) (agent.AgentRunResult, error) {
	if parent == nil {
		return agent.AgentRunResult{}, fmt.Errorf("parent run context is required")
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerSubagent, "subagent.spawn",
		attribute.String("parent_session_key", parent.SessionKey),
		attribute.String("child_agent_id", req.AgentID),
		attribute.Int("parent_depth", parent.Depth),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("child_agent_id", req.AgentID).Logger()

	if !parent.CanSpawn() {
		err := fmt.Errorf("%w: child depth %d exceeds max %d", agent.ErrDepthLimitExceeded, parent.Depth+1, parent.MaxDepth)
		return s.reject(ctx, span, logger, parent, req, "depth_exceeded", err)
	}

	identity, err := parent.Resolver.Agent(req.AgentID)
	if err != nil {
		return s.reject(ctx, span, logger, parent, req, "agent_not_found", err)
	}

	chain, err := childChain(parent, identity, req.Model)
	if err != nil {
		return s.reject(ctx, span, logger, parent, req, "model_not_allowed", err)
	}

	if parent.Budget.Exhausted() {
		return s.reject(ctx, span, logger, parent, req, "budget_exhausted", agent.ErrBudgetExhausted)
	}

	if s.maxChildren > 0 && s.registry.CountActive(parent.SessionKey) >= s.maxChildren {
		err := fmt.Errorf("%w: %d running under %s", ErrTooManyChildren, s.maxChildren, parent.SessionKey)
		return s.reject(ctx, span, logger, parent, req, "too_many_children", err)
	}

	record, err := s.registry.Register(RunParams{
		ParentSessionKey: parent.SessionKey,
		AgentID:          identity.ID,
		Task:             req.Task,
		Model:            req.Model,
		Depth:            parent.Depth + 1,
		Detached:         s.detach,
	})
	if err != nil {
		return agent.AgentRunResult{}, err
	}

	run, err := s.runner.RunChild(ctx, parent, agent.ChildParams{
		SessionKey: record.ChildSessionKey,
		Identity:   identity,
		Chain:      chain,
		Task:       req.Task,
		Detached:   s.detach,
	})
	if err != nil {
		_ = s.registry.Finish(record.ID, StatusFailed, "", err.Error())
		return s.reject(ctx, span, logger, parent, req, "start_failed", err)
	}
	run.Close()
	_ = s.registry.Start(record.ID, run.ID)

	observability.RecordSubagentSpawn("started")
	observability.RecordSpawnAudit(ctx, parent.SessionKey, identity.ID, "started", map[string]interface{}{
		"child_session_key": record.ChildSessionKey,
		"depth":             record.Depth,
		"detached":          s.detach,
		"chain":             []string(chain),
	})
	logger.Info().
		Str("child_session_key", record.ChildSessionKey).
		Int("depth", record.Depth).
		Bool("detached", s.detach).
		Msg("Subagent started")

	if s.detach {
		go s.await(record.ID, run, logger)
		return agent.AgentRunResult{
			RunID:      run.ID,
			SessionKey: record.ChildSessionKey,
			AgentID:    identity.ID,
			Response: fmt.Sprintf("Subagent %s is working on the task in the background (session %s).",
				identity.ID, record.ChildSessionKey),
			ToolCalls: []agent.ToolCallRecord{},
		}, nil
	}
	return s.await(record.ID, run, logger), nil
}

// await waits for the child and records its terminal status
func (s *Spawner) await(id string, run *agent.Run, logger zerolog.Logger) agent.AgentRunResult {
	result := run.Wait()

	status := StatusCompleted
	var errMsg string
	switch {
	case result.Aborted:
		status = StatusAborted
	case result.Err != nil:
		status = StatusFailed
	}
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	if err := s.registry.Finish(id, status, result.Response, errMsg); err != nil {
		logger.Warn().Err(err).Msg("Failed to record subagent result")
	}

	observability.RecordSubagentSpawn(string(status))
	logger.Info().
		Str("child_session_key", result.SessionKey).
		Str("status", string(status)).
		Msg("Subagent finished")
	return result
}

func (s *Spawner) reject(ctx context.Context, span trace.Span, logger zerolog.Logger, parent *agent.RunContext, req agent.SpawnRequest, outcome string, err error) (agent.AgentRunResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	observability.RecordSubagentSpawn(outcome)
	observability.RecordSpawnAudit(ctx, parent.SessionKey, req.AgentID, "rejected", map[string]interface{}{
		"reason": outcome,
		"error":  err.Error(),
	})
	logger.Warn().Err(err).Str("outcome", outcome).Msg("Subagent spawn rejected")
	return agent.AgentRunResult{}, err
}

// childChain returns the models the child may use. A requested model must
// be on the parent's allow-list when one is set; without a request the
// child's own chain is filtered by the allow-list.
func childChain(parent *agent.RunContext, identity resolver.AgentIdentity, model string) (resolver.ModelChain, error) {
	res := parent.Resolver
	allowed := make(map[string]bool, len(parent.Identity.AllowedSubagentModels))
	for _, m := range parent.Identity.AllowedSubagentModels {
		allowed[res.ResolveModel(m)] = true
	}

	if model != "" {
		m := res.ResolveModel(model)
		if len(allowed) > 0 && !allowed[m] {
			return nil, fmt.Errorf("%w: %s", agent.ErrModelNotAllowed, m)
		}
		return resolver.ModelChain{m}, nil
	}

	chain, err := res.ModelChain(identity)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return chain, nil
	}

	filtered := make(resolver.ModelChain, 0, len(chain))
	for _, m := range chain {
		if allowed[m] {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: none of %v", agent.ErrModelNotAllowed, []string(chain))
	}
	return filtered, nil
}
