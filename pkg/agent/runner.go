package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/internal/tracing"
	"github.com/harun/ranya-engine/pkg/abort"
	"github.com/harun/ranya-engine/pkg/compaction"
	"github.com/harun/ranya-engine/pkg/events"
	"github.com/harun/ranya-engine/pkg/failover"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/prompt"
	"github.com/harun/ranya-engine/pkg/resolver"
	"github.com/harun/ranya-engine/pkg/usage"
)

// Limits bounds a single run
type Limits struct {
	MaxTurns           int
	MaxParallelTools   int
	MaxOverflowRetries int
	MaxTokens          int
}

// DefaultLimits returns the execution defaults
func DefaultLimits() Limits {
	return Limits{
		MaxTurns:           25,
		MaxParallelTools:   4,
		MaxOverflowRetries: 2,
		MaxTokens:          4096,
	}
}

// Config holds runner configuration
type Config struct {
	Provider  llm.Provider
	Resolvers *resolver.Store

	Bus        *events.Bus
	Aborts     *abort.Registry
	Usage      *usage.Tracker
	Compaction *compaction.Engine
	Assembler  *prompt.Assembler
	// Failover tunes retries; Provider and Logger are filled in by the runner
	Failover failover.Config

	Tools   ToolExecutor
	Catalog ToolCatalog
	Spawner Spawner

	Limits Limits
	Logger zerolog.Logger
}

// Runner executes agent runs
type Runner struct {
	resolvers  *resolver.Store
	bus        *events.Bus
	aborts     *abort.Registry
	usage      *usage.Tracker
	compaction *compaction.Engine
	assembler  *prompt.Assembler
	failover   *failover.Controller
	tools      ToolExecutor
	catalog    ToolCatalog
	spawner    atomic.Value // Spawner
	limits     Limits
	logger     zerolog.Logger
}

// NewRunner creates a runner. Provider and Resolvers are required; the
// remaining collaborators default to fresh instances.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Resolvers == nil || cfg.Resolvers.Current() == nil {
		return nil, fmt.Errorf("resolver store is required")
	}

	logger := cfg.Logger.With().Str("component", "agent").Logger()

	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(events.Config{Logger: cfg.Logger})
	}
	if cfg.Aborts == nil {
		cfg.Aborts = abort.NewRegistry()
	}
	if cfg.Usage == nil {
		cfg.Usage = usage.NewTracker()
	}
	if cfg.Compaction == nil {
		cfg.Compaction = compaction.NewEngine(compaction.Config{Policy: compaction.DefaultPolicy(), Logger: cfg.Logger})
	}
	if cfg.Assembler == nil {
		cfg.Assembler = prompt.NewAssembler(nil)
	}
	if cfg.Catalog == nil {
		if catalog, ok := cfg.Tools.(ToolCatalog); ok {
			cfg.Catalog = catalog
		}
	}

	def := DefaultLimits()
	if cfg.Limits.MaxTurns <= 0 {
		cfg.Limits.MaxTurns = def.MaxTurns
	}
	if cfg.Limits.MaxParallelTools <= 0 {
		cfg.Limits.MaxParallelTools = def.MaxParallelTools
	}
	if cfg.Limits.MaxOverflowRetries <= 0 {
		cfg.Limits.MaxOverflowRetries = def.MaxOverflowRetries
	}
	if cfg.Limits.MaxTokens <= 0 {
		cfg.Limits.MaxTokens = def.MaxTokens
	}

	cfg.Failover.Provider = cfg.Provider
	cfg.Failover.Logger = cfg.Logger

	r := &Runner{
		resolvers:  cfg.Resolvers,
		bus:        cfg.Bus,
		aborts:     cfg.Aborts,
		usage:      cfg.Usage,
		compaction: cfg.Compaction,
		assembler:  cfg.Assembler,
		failover:   failover.NewController(cfg.Failover),
		tools:      cfg.Tools,
		catalog:    cfg.Catalog,
		limits:     cfg.Limits,
		logger:     logger,
	}
	if cfg.Spawner != nil {
		r.SetSpawner(cfg.Spawner)
	}
	return r, nil
}

// SetSpawner installs the sub-agent spawner. The spawner usually needs the
// runner itself, so it is wired after construction.
func (r *Runner) SetSpawner(s Spawner) {
	r.spawner.Store(&s)
}

func (r *Runner) getSpawner() Spawner {
	if v, ok := r.spawner.Load().(*Spawner); ok && v != nil {
		return *v
	}
	return nil
}

// Run is the handle of a started run
type Run struct {
	ID         string
	SessionKey string
	AgentID    string

	sub    *events.Subscription
	state  atomic.Value // State
	done   chan struct{}
	result AgentRunResult
}

// Events streams the run's events and closes after Complete.
// Delivery is lossy when the reader falls behind the bus buffer.
func (r *Run) Events() <-chan events.Event {
	return r.sub.C()
}

// Done is closed once the result is available
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run completes
func (r *Run) Wait() AgentRunResult {
	<-r.done
	return r.result
}

// State returns the loop's current state
func (r *Run) State() State {
	if s, ok := r.state.Load().(State); ok {
		return s
	}
	return StateIdle
}

// Close stops event delivery to this handle. The run keeps going.
func (r *Run) Close() {
	r.sub.Close()
}

// Start resolves the agent for params.SessionKey, registers the run and
// executes it in its own goroutine. ctx bounds the run's lifetime.
//
// Resolution errors and ErrConcurrentRunRejected are returned before any
// run exists; every later failure is reported through the result.
func (r *Runner) Start(ctx context.Context, params RunParams) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.SessionKey == "" {
		return nil, fmt.Errorf("session key is required")
	}

	res := r.resolvers.Current()
	identity, err := resolveIdentity(res, params)
	if err != nil {
		return nil, err
	}
	chain, err := resolveChain(res, identity, params.Model)
	if err != nil {
		return nil, err
	}

	ctx = tracing.NewAgentRunContext(ctx, identity.ID, params.SessionKey)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	token, err := r.aborts.Register(ctx, params.SessionKey)
	if err != nil {
		logger.Warn().Err(err).Msg("Run rejected")
		return nil, err
	}

	rc := &RunContext{
		SessionKey: params.SessionKey,
		RunID:      tracing.GetRunID(ctx),
		ThreadID:   tracing.GetThreadID(ctx),
		AgentID:    identity.ID,
		Identity:   identity,
		Chain:      chain,
		Resolver:   res,
		MaxDepth:   identity.MaxSubagentDepth,
		Budget:     NewBudget(identity.RunTokenBudget),
		Token:      token,
		StartedAt:  time.Now(),
	}
	return r.launch(ctx, rc, params), nil
}

// Run starts a run and waits for its result
func (r *Runner) Run(ctx context.Context, params RunParams) (AgentRunResult, error) {
	run, err := r.Start(ctx, params)
	if err != nil {
		return AgentRunResult{SessionKey: params.SessionKey, Err: err}, err
	}
	run.Close()
	result := run.Wait()
	return result, result.Err
}

// RunChild starts a sub-agent run below parent. The child shares the
// parent's thread id, depth limit and budget, and sits one level deeper.
func (r *Runner) RunChild(ctx context.Context, parent *RunContext, child ChildParams) (*Run, error) {
	if parent == nil {
		return nil, fmt.Errorf("parent run context is required")
	}
	if len(child.Chain) == 0 {
		return nil, fmt.Errorf("child %s: %w", child.Identity.ID, resolver.ErrNoModelsConfigured)
	}

	ctx = tracing.WithThreadID(ctx, parent.ThreadID)
	ctx = tracing.WithSessionKey(ctx, parent.SessionKey)
	ctx = tracing.PropagateToSubAgent(ctx, child.Identity.ID, child.SessionKey)

	var token *abort.Token
	var err error
	if child.Detached {
		token, err = r.aborts.Register(tracing.Detach(ctx), child.SessionKey)
	} else {
		token, err = r.aborts.RegisterChild(child.SessionKey, parent.Token)
	}
	if err != nil {
		return nil, err
	}

	rc := &RunContext{
		SessionKey: child.SessionKey,
		RunID:      tracing.GetRunID(ctx),
		ThreadID:   parent.ThreadID,
		ParentKey:  parent.SessionKey,
		AgentID:    child.Identity.ID,
		Identity:   child.Identity,
		Chain:      child.Chain,
		Resolver:   parent.Resolver,
		Depth:      parent.Depth + 1,
		MaxDepth:   parent.MaxDepth,
		Budget:     parent.Budget,
		Token:      token,
		StartedAt:  time.Now(),
	}
	return r.launch(ctx, rc, RunParams{SessionKey: child.SessionKey, Prompt: child.Task}), nil
}

// launch subscribes the handle before the goroutine starts so no event of
// the run is missed.
func (r *Runner) launch(ctx context.Context, rc *RunContext, params RunParams) *Run {
	run := &Run{
		ID:         rc.RunID,
		SessionKey: rc.SessionKey,
		AgentID:    rc.AgentID,
		sub:        r.bus.SubscribeRun(rc.SessionKey),
		done:       make(chan struct{}),
	}
	run.state.Store(StateIdle)

	// Cancellation comes from the token, tracing values and the span from ctx.
	runCtx := tracing.NewContext(rc.Token.Context(), tracing.FromContext(ctx))
	runCtx = trace.ContextWithSpan(runCtx, trace.SpanFromContext(ctx))

	go func() {
		run.result = r.execute(runCtx, rc, params, run)
		close(run.done)
	}()
	return run
}

// Subscribe returns future events of sessionKey. There is no replay.
func (r *Runner) Subscribe(sessionKey string) *events.Subscription {
	return r.bus.Subscribe(sessionKey)
}

// Abort signals the active run of sessionKey. Returns false when there is none.
func (r *Runner) Abort(sessionKey string) bool {
	ok := r.aborts.Abort(sessionKey)
	if ok {
		r.logger.Info().Str("session_key", sessionKey).Msg("Aborting agent run")
	} else {
		r.logger.Debug().Str("session_key", sessionKey).Msg("No active run to abort")
	}
	return ok
}

// SessionUsage returns accumulated usage of a session
func (r *Runner) SessionUsage(sessionKey string) usage.Report {
	return r.usage.SessionUsage(sessionKey)
}

// AgentUsage returns lifetime usage of an agent
func (r *Runner) AgentUsage(agentID string) usage.Report {
	return r.usage.AgentUsage(agentID)
}

// ResetSessionUsage clears a session's usage; agent totals are kept
func (r *Runner) ResetSessionUsage(sessionKey string) {
	r.usage.ResetSession(sessionKey)
}

// ActiveRuns returns the session keys with an active run, sorted
func (r *Runner) ActiveRuns() []string {
	return r.aborts.Active()
}

// Resolvers returns the resolver store the runner reads from
func (r *Runner) Resolvers() *resolver.Store {
	return r.resolvers
}

func resolveIdentity(res *resolver.Resolver, params RunParams) (resolver.AgentIdentity, error) {
	if params.AgentID != "" {
		return res.Agent(params.AgentID)
	}
	return res.Resolve(params.SessionKey)
}

func resolveChain(res *resolver.Resolver, identity resolver.AgentIdentity, model string) (resolver.ModelChain, error) {
	if model != "" {
		if m := res.ResolveModel(model); m != "" {
			return resolver.ModelChain{m}, nil
		}
	}
	return res.ModelChain(identity)
}
