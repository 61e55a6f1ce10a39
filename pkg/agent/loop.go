package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/internal/tracing"
	"github.com/harun/ranya-engine/pkg/compaction"
	"github.com/harun/ranya-engine/pkg/events"
	"github.com/harun/ranya-engine/pkg/failover"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/prompt"
	"github.com/harun/ranya-engine/pkg/usage"
)

// loop is the state of one executing run. Only the run goroutine touches it.
type loop struct {
	r      *Runner
	rc     *RunContext
	run    *Run
	params RunParams
	logger zerolog.Logger

	session *failover.Session
	system  string
	tools   []llm.ToolSchema
	policy  *ToolPolicy

	records  []ToolCallRecord
	usage    usage.Report
	model    string
	response string
	partial  strings.Builder
}

func (r *Runner) execute(ctx context.Context, rc *RunContext, params RunParams, run *Run) AgentRunResult {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.run",
		attribute.String("session_key", rc.SessionKey),
		attribute.String("agent_id", rc.AgentID),
		attribute.Int("depth", rc.Depth),
	)
	defer span.End()

	l := &loop{
		r:      r,
		rc:     rc,
		run:    run,
		params: params,
		logger: tracing.LoggerFromContext(ctx, r.logger),
		policy: &ToolPolicy{Allow: rc.Identity.ToolAllow, Deny: rc.Identity.ToolDeny},
	}

	observability.RecordRunStart()
	l.logger.Info().
		Strs("chain", rc.Chain).
		Int("depth", rc.Depth).
		Msg("Agent run started")

	err := l.execute(ctx)
	result := l.result(err)

	if err != nil && !result.Aborted {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.finish(ctx, l, result)
	return result
}

func (l *loop) execute(ctx context.Context) error {
	l.rc.Transcript = l.params.Transcript.Clone()
	if l.params.Prompt != "" {
		l.rc.Transcript = append(l.rc.Transcript, llm.Message{Role: llm.RoleUser, Content: l.params.Prompt})
	}

	l.tools = l.r.toolSchemas(l.rc, l.policy)
	l.system = l.r.assembler.Build(prompt.Input{
		Base:           l.rc.Identity.SystemPrompt,
		DynamicContext: l.params.DynamicContext,
		ToolSchemas:    l.tools,
		SkillFragments: l.params.SkillFragments,
		MemoryContext:  l.params.MemoryContext,
	})

	session, err := l.r.failover.NewSession(l.rc.Chain, l.onSwitch)
	if err != nil {
		return err
	}
	session.OnDiscard(l.onDiscard)
	l.session = session

	maxTurns := l.r.limits.MaxTurns
	if l.rc.Identity.MaxTurns > 0 {
		maxTurns = l.rc.Identity.MaxTurns
	}

	for turn := 1; ; turn++ {
		if err := l.aborted(); err != nil {
			return err
		}
		if turn > maxTurns {
			return fmt.Errorf("%w: %d", ErrMaxTurns, maxTurns)
		}
		if l.rc.Budget.Exhausted() {
			return ErrBudgetExhausted
		}

		resp, err := l.callModel(ctx)
		if err != nil {
			return err
		}

		l.model = resp.Model
		l.response = resp.Text
		l.rc.Transcript = append(l.rc.Transcript, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			l.setState(StateComplete)
			return nil
		}
		if err := l.executeTools(ctx, resp.ToolCalls); err != nil {
			return err
		}
		if l.rc.Budget.Exhausted() {
			return ErrBudgetExhausted
		}
	}
}

// callModel runs one model turn: guard compaction, failover attempt and
// overflow recovery against the same model.
func (l *loop) callModel(ctx context.Context) (*llm.Response, error) {
	overflows := 0
	for {
		model := l.session.Current()
		window := l.rc.Resolver.ContextWindow(model)

		if res, applied := l.r.compaction.Guard(ctx, l.system, l.rc.Transcript, window); applied {
			l.setState(StateCompacting)
			if res.Changed() {
				l.applyCompaction(res)
			}
			if !res.Fits() {
				l.logger.Warn().
					Int("tokens", res.TokensAfter).
					Int("target", res.Target).
					Str("model", model).
					Msg("Transcript still above guard threshold after compaction")
			}
		}

		l.setState(StateAwaitingModel)
		l.partial.Reset()

		maxTokens := l.r.limits.MaxTokens
		if l.rc.Identity.MaxTokens > 0 {
			maxTokens = l.rc.Identity.MaxTokens
		}
		request := llm.Request{
			SystemPrompt: l.system,
			Messages:     l.rc.Transcript,
			Tools:        l.tools,
			MaxTokens:    maxTokens,
			Temperature:  l.rc.Identity.Temperature,
		}

		resp, err := l.session.Attempt(ctx, request, l.onDelta)
		if err == nil {
			l.recordUsage(resp)
			return resp, nil
		}
		if abortErr := l.aborted(); abortErr != nil {
			return nil, abortErr
		}

		var overflow *failover.OverflowError
		if !errors.As(err, &overflow) {
			l.setState(StateFailing)
			return nil, err
		}
		if overflows >= l.r.limits.MaxOverflowRetries {
			return nil, fmt.Errorf("context overflow persists after %d compactions: %w", overflows, err)
		}
		overflows++

		l.setState(StateCompacting)
		res := l.r.compaction.Overflow(ctx, l.system, l.rc.Transcript, window)
		if !res.Changed() {
			return nil, fmt.Errorf("nothing left to compact: %w", err)
		}
		l.applyCompaction(res)
		l.logger.Info().
			Str("model", overflow.Model).
			Int("tokens_before", res.TokensBefore).
			Int("tokens_after", res.TokensAfter).
			Msg("Compacted after context overflow, retrying model")
	}
}

// executeTools fans the turn's calls out and appends their results in call
// order. It stops waiting as soon as the run is aborted; results that arrive
// later are dropped.
func (l *loop) executeTools(ctx context.Context, calls []llm.ToolCall) error {
	if err := l.aborted(); err != nil {
		return err
	}
	l.setState(StateExecutingTools)

	for _, call := range calls {
		l.emit(events.Event{
			Type:     events.TypeToolCallStart,
			ToolCall: &events.ToolCallInfo{ID: call.ID, Name: call.Name, Arguments: call.Arguments},
		})
	}

	records := make([]ToolCallRecord, len(calls))
	fatal := make([]error, len(calls))
	done := make(chan struct{})

	go func() {
		defer close(done)
		g := new(errgroup.Group)
		g.SetLimit(l.r.limits.MaxParallelTools)
		for i, call := range calls {
			g.Go(func() error {
				records[i], fatal[i] = l.runTool(ctx, call)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-l.rc.Token.Done():
		return l.aborted()
	}
	if err := l.aborted(); err != nil {
		return err
	}

	for _, rec := range records {
		l.records = append(l.records, rec)
		l.rc.Transcript = append(l.rc.Transcript, llm.Message{
			Role:       llm.RoleTool,
			Content:    rec.Result,
			ToolCallID: rec.ID,
			ToolName:   rec.Name,
			IsError:    rec.IsError,
		})
		l.emit(events.Event{
			Type: events.TypeToolCallResult,
			ToolCall: &events.ToolCallInfo{
				ID:       rec.ID,
				Name:     rec.Name,
				Result:   rec.Result,
				IsError:  rec.IsError,
				Duration: rec.Duration,
			},
		})
	}

	for _, err := range fatal {
		if err != nil {
			return err
		}
	}
	return nil
}

// runTool executes one call. Tool failures become error records; the
// second return value is set only for errors that end the run.
func (l *loop) runTool(ctx context.Context, call llm.ToolCall) (ToolCallRecord, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.tool",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()

	start := time.Now()
	var out string
	var err, fatal error

	spawner := l.r.getSpawner()
	switch {
	case call.Name == SpawnToolName && spawner != nil:
		out, err = l.spawn(ctx, spawner, call)
		if err != nil && isFatal(err) {
			fatal = err
		}
	case l.r.tools == nil:
		err = fmt.Errorf("%s: %w", call.Name, ErrToolNotFound)
	default:
		out, err = l.r.tools.Execute(ctx, call.Name, call.Arguments, l.toolContext(call.ID))
	}

	rec := ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Result:    out,
		Duration:  time.Since(start),
	}
	if err != nil {
		rec.Result = err.Error()
		rec.IsError = true
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Debug().Err(err).Str("tool", call.Name).Msg("Tool call failed")
	}
	observability.RecordToolExecution(call.Name, rec.Duration, err == nil)
	return rec, fatal
}

func (l *loop) spawn(ctx context.Context, spawner Spawner, call llm.ToolCall) (string, error) {
	if !l.policy.IsToolAllowed(SpawnToolName) {
		return "", fmt.Errorf("%s: %w", SpawnToolName, ErrToolDenied)
	}
	req := SpawnRequest{
		AgentID: stringArg(call.Arguments, "agent_id"),
		Task:    stringArg(call.Arguments, "task"),
		Model:   stringArg(call.Arguments, "model"),
	}
	if req.AgentID == "" || req.Task == "" {
		return "", fmt.Errorf("%s requires agent_id and task", SpawnToolName)
	}

	result, err := spawner.Spawn(ctx, l.rc, req)
	if err != nil {
		return "", err
	}
	if result.Err != nil {
		if errors.Is(result.Err, ErrBudgetExhausted) {
			return "", fmt.Errorf("subagent %s: %w", req.AgentID, result.Err)
		}
		return "", fmt.Errorf("subagent %s failed: %v", req.AgentID, result.Err)
	}
	return result.Response, nil
}

func (l *loop) toolContext(callID string) ToolContext {
	return ToolContext{
		SessionKey: l.rc.SessionKey,
		AgentID:    l.rc.AgentID,
		RunID:      l.rc.RunID,
		ThreadID:   l.rc.ThreadID,
		CallID:     callID,
		Depth:      l.rc.Depth,
		Policy:     l.policy,
	}
}

func (l *loop) onDelta(d llm.Delta) {
	if d.Type != llm.DeltaText || d.Text == "" {
		return
	}
	l.partial.WriteString(d.Text)
	l.emit(events.Event{Type: events.TypeTextDelta, Text: d.Text})
}

// onDiscard drops the text of a failed call so the partial response and the
// streamed deltas start over with the next attempt
func (l *loop) onDiscard(model string, err error) {
	l.partial.Reset()
	l.emit(events.Event{
		Type: events.TypeError,
		Error: &events.ErrorInfo{
			Kind:    events.ErrorStreamDiscarded,
			Message: fmt.Sprintf("%s failed mid-stream: %v", model, err),
		},
	})
}

func (l *loop) onSwitch(from, to string, reason llm.ErrorClass) {
	l.setState(StateFailing)
	l.emit(events.Event{
		Type:   events.TypeModelSwitch,
		Switch: &events.ModelSwitch{From: from, To: to, Reason: string(reason)},
	})
}

func (l *loop) applyCompaction(res compaction.Result) {
	l.rc.Transcript = res.Transcript
	strategies := make([]string, 0, len(res.Applied))
	for _, s := range res.Applied {
		strategies = append(strategies, string(s))
	}
	l.emit(events.Event{
		Type: events.TypeCompactionApplied,
		Compaction: &events.CompactionInfo{
			Trigger:      string(res.Trigger),
			Strategies:   strategies,
			TokensBefore: res.TokensBefore,
			TokensAfter:  res.TokensAfter,
		},
	})
}

func (l *loop) recordUsage(resp *llm.Response) {
	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	l.r.usage.Record(l.rc.SessionKey, l.rc.AgentID, in, out)
	observability.RecordTokens(l.rc.AgentID, in, out)

	l.usage.InputTokens += int64(in)
	l.usage.OutputTokens += int64(out)
	l.usage.TotalTokens += int64(in + out)
	l.usage.Requests++

	if l.rc.Budget.Consume(in + out) {
		l.logger.Warn().Int64("remaining", l.rc.Budget.Remaining()).Msg("Token budget exhausted")
	}

	l.emit(events.Event{
		Type: events.TypeUsage,
		Usage: &events.UsageInfo{
			Model:        resp.Model,
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
	})
}

// aborted returns a non-nil error once the run's token has been triggered,
// whether by Abort or by the caller's context ending.
func (l *loop) aborted() error {
	cause := l.rc.Token.Err()
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func (l *loop) setState(s State) {
	l.run.state.Store(s)
}

func (l *loop) emit(ev events.Event) {
	ev.SessionKey = l.rc.SessionKey
	ev.RunID = l.rc.RunID
	l.r.bus.Publish(ev)
}

func (l *loop) result(err error) AgentRunResult {
	records := l.records
	if records == nil {
		records = []ToolCallRecord{}
	}
	res := AgentRunResult{
		RunID:      l.rc.RunID,
		SessionKey: l.rc.SessionKey,
		AgentID:    l.rc.AgentID,
		Response:   l.response,
		ToolCalls:  records,
		Usage:      l.usage,
		Transcript: l.rc.Transcript,
		Model:      l.model,
		Err:        err,
	}
	if errors.Is(err, ErrAborted) {
		res.Aborted = true
		if partial := l.partial.String(); partial != "" {
			res.Response = partial
		}
		l.setState(StateAborted)
	} else if err != nil {
		l.setState(StateComplete)
	}
	return res
}

// finish releases the session before publishing Complete, so a caller
// reacting to Complete can start the next run immediately.
func (r *Runner) finish(ctx context.Context, l *loop, result AgentRunResult) {
	rc := l.rc
	r.aborts.Release(rc.Token)

	status := "completed"
	switch {
	case result.Aborted:
		status = "aborted"
	case result.Err != nil:
		status = "failed"
	}
	duration := time.Since(rc.StartedAt)
	observability.RecordRunEnd(rc.AgentID, status, duration)
	observability.RecordRunAudit(ctx, rc.SessionKey, rc.AgentID, status, map[string]interface{}{
		"run_id":       rc.RunID,
		"model":        result.Model,
		"depth":        rc.Depth,
		"tool_calls":   len(result.ToolCalls),
		"total_tokens": result.Usage.TotalTokens,
	})

	complete := &events.CompleteInfo{
		Response:  result.Response,
		Model:     result.Model,
		ToolCalls: len(result.ToolCalls),
		Aborted:   result.Aborted,
	}
	if result.Err != nil {
		complete.Error = result.Err.Error()
		l.emit(events.Event{
			Type:  events.TypeError,
			Error: &events.ErrorInfo{Kind: errorKind(result.Err), Message: result.Err.Error()},
		})
	}
	l.emit(events.Event{Type: events.TypeComplete, Complete: complete})

	evt := l.logger.Info()
	if result.Err != nil && !result.Aborted {
		evt = l.logger.Error().Err(result.Err)
	}
	evt.Str("status", status).
		Str("model", result.Model).
		Int("tool_calls", len(result.ToolCalls)).
		Int64("total_tokens", result.Usage.TotalTokens).
		Dur("duration", duration).
		Msg("Agent run finished")
}

// toolSchemas lists the tools offered to the model: the catalog filtered by
// the agent's policy, plus the spawn tool while the depth limit allows it.
func (r *Runner) toolSchemas(rc *RunContext, policy *ToolPolicy) []llm.ToolSchema {
	var out []llm.ToolSchema
	if r.catalog != nil {
		for _, s := range r.catalog.Schemas() {
			if s.Name == SpawnToolName || !policy.IsToolAllowed(s.Name) {
				continue
			}
			out = append(out, s)
		}
	}
	if r.getSpawner() != nil && rc.CanSpawn() && policy.IsToolAllowed(SpawnToolName) {
		out = append(out, spawnToolSchema(rc))
	}
	return out
}

func spawnToolSchema(rc *RunContext) llm.ToolSchema {
	var ids []string
	if rc.Resolver != nil {
		for _, a := range rc.Resolver.Agents() {
			ids = append(ids, a.ID)
		}
	}
	desc := "Delegate a task to another agent and return its final answer."
	if len(ids) > 0 {
		desc += " Available agents: " + strings.Join(ids, ", ") + "."
	}
	return llm.ToolSchema{
		Name:        SpawnToolName,
		Description: desc,
		Parameters: parametersSchema([]ToolParameter{
			{Name: "agent_id", Type: "string", Description: "Agent to delegate to", Required: true},
			{Name: "task", Type: "string", Description: "Self-contained task for the agent", Required: true},
			{Name: "model", Type: "string", Description: "Optional model for the sub-agent"},
		}),
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
