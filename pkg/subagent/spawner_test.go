package subagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/pkg/abort"
	"github.com/harun/ranya-engine/pkg/agent"
	"github.com/harun/ranya-engine/pkg/failover"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/llm/llmtest"
	"github.com/harun/ranya-engine/pkg/resolver"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agents = []config.AgentConfig{
		{ID: "main", Model: "m1", MaxSubagentDepth: 2},
		{ID: "worker", Model: "w1", FallbackModels: []string{"w2"}},
		{ID: "picky", Model: "m1", AllowedSubagentModels: []string{"w2"}},
	}
	cfg.DefaultAgent = "main"
	cfg.Bindings = nil
	return cfg
}

func newTestResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	res, err := resolver.New(testConfig())
	require.NoError(t, err)
	return res
}

func newTestRunner(t *testing.T, provider llm.Provider, tools *agent.ToolRegistry) *agent.Runner {
	t.Helper()
	cfg := agent.Config{
		Provider:  provider,
		Resolvers: resolver.NewStore(newTestResolver(t), zerolog.Nop()),
		Failover: failover.Config{
			TransientRetries: 1,
			Sleep:            func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		},
		Logger: zerolog.Nop(),
	}
	if tools != nil {
		cfg.Tools = tools
	}
	runner, err := agent.NewRunner(cfg)
	require.NoError(t, err)
	return runner
}

// parentContext builds the run context of a parent run of agentID
func parentContext(t *testing.T, agentID string, depth int, budget *agent.Budget) *agent.RunContext {
	t.Helper()
	res := newTestResolver(t)
	identity, err := res.Agent(agentID)
	require.NoError(t, err)
	chain, err := res.ModelChain(identity)
	require.NoError(t, err)

	token, err := abort.NewRegistry().Register(context.Background(), "web:dm:1")
	require.NoError(t, err)

	return &agent.RunContext{
		SessionKey: "web:dm:1",
		RunID:      "parent-run",
		ThreadID:   "thread-1",
		AgentID:    identity.ID,
		Identity:   identity,
		Chain:      chain,
		Resolver:   res,
		Depth:      depth,
		MaxDepth:   identity.MaxSubagentDepth,
		Budget:     budget,
		Token:      token,
		StartedAt:  time.Now(),
	}
}

// recordingRunner captures child params and refuses to start
type recordingRunner struct {
	mu     sync.Mutex
	params []agent.ChildParams
}

var errNotStarted = errors.New("not started")

func (r *recordingRunner) RunChild(_ context.Context, _ *agent.RunContext, child agent.ChildParams) (*agent.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, child)
	return nil, errNotStarted
}

func (r *recordingRunner) calls() []agent.ChildParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.ChildParams(nil), r.params...)
}

func newSpawner(t *testing.T, runner ChildRunner, mode string, maxChildren int) *Spawner {
	t.Helper()
	s, err := NewSpawner(Config{
		Runner:            runner,
		Registry:          NewRegistry(RegistryConfig{Logger: zerolog.Nop()}),
		Mode:              mode,
		MaxChildrenPerRun: maxChildren,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func TestNewSpawner(t *testing.T) {
	t.Run("should require a runner", func(t *testing.T) {
		_, err := NewSpawner(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should reject unknown modes", func(t *testing.T) {
		_, err := NewSpawner(Config{Runner: &recordingRunner{}, Mode: "later"})
		assert.Error(t, err)
	})

	t.Run("should create a registry when none is given", func(t *testing.T) {
		s, err := NewSpawner(Config{Runner: &recordingRunner{}})
		require.NoError(t, err)
		assert.NotNil(t, s.Registry())
	})
}

func TestSpawner_Validation(t *testing.T) {
	t.Run("should reject a child past the depth limit before starting anything", func(t *testing.T) {
		for depth := 2; depth <= 4; depth++ {
			runner := &recordingRunner{}
			s := newSpawner(t, runner, "", 0)

			_, err := s.Spawn(context.Background(), parentContext(t, "main", depth, nil),
				agent.SpawnRequest{AgentID: "worker", Task: "sum"})

			assert.ErrorIs(t, err, agent.ErrDepthLimitExceeded)
			assert.Empty(t, runner.calls())
			assert.Equal(t, 0, s.Registry().Stats().TotalRuns)
		}
	})

	t.Run("should reject unknown agents", func(t *testing.T) {
		runner := &recordingRunner{}
		s := newSpawner(t, runner, "", 0)

		_, err := s.Spawn(context.Background(), parentContext(t, "main", 0, nil),
			agent.SpawnRequest{AgentID: "ghost", Task: "sum"})
		assert.ErrorIs(t, err, resolver.ErrAgentNotFound)
		assert.Empty(t, runner.calls())
	})

	t.Run("should reject a requested model outside the allow-list", func(t *testing.T) {
		runner := &recordingRunner{}
		s := newSpawner(t, runner, "", 0)

		_, err := s.Spawn(context.Background(), parentContext(t, "picky", 0, nil),
			agent.SpawnRequest{AgentID: "worker", Task: "sum", Model: "w1"})
		assert.ErrorIs(t, err, agent.ErrModelNotAllowed)
		assert.Empty(t, runner.calls())
	})

	t.Run("should narrow the child's chain to allowed models", func(t *testing.T) {
		runner := &recordingRunner{}
		s := newSpawner(t, runner, "", 0)

		_, err := s.Spawn(context.Background(), parentContext(t, "picky", 0, nil),
			agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		assert.ErrorIs(t, err, errNotStarted)

		calls := runner.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, resolver.ModelChain{"w2"}, calls[0].Chain)
	})

	t.Run("should pin a requested model when there is no allow-list", func(t *testing.T) {
		runner := &recordingRunner{}
		s := newSpawner(t, runner, "", 0)

		_, _ = s.Spawn(context.Background(), parentContext(t, "main", 0, nil),
			agent.SpawnRequest{AgentID: "worker", Task: "sum", Model: "sonnet"})

		calls := runner.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, resolver.ModelChain{"claude-sonnet-4"}, calls[0].Chain)
		assert.True(t, strings.HasPrefix(calls[0].SessionKey, "web:dm:1:sub:"))
		assert.Equal(t, "sum", calls[0].Task)
	})

	t.Run("should mark a child that failed to start as failed", func(t *testing.T) {
		s := newSpawner(t, &recordingRunner{}, "", 0)

		_, err := s.Spawn(context.Background(), parentContext(t, "main", 0, nil),
			agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		require.Error(t, err)

		children := s.Registry().Children("web:dm:1")
		require.Len(t, children, 1)
		assert.Equal(t, StatusFailed, children[0].Status)
	})

	t.Run("should refuse to spawn on an exhausted budget", func(t *testing.T) {
		runner := &recordingRunner{}
		s := newSpawner(t, runner, "", 0)
		budget := agent.NewBudget(10)
		budget.Consume(10)

		_, err := s.Spawn(context.Background(), parentContext(t, "main", 0, budget),
			agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		assert.ErrorIs(t, err, agent.ErrBudgetExhausted)
		assert.Empty(t, runner.calls())
	})
}

func TestSpawner_Await(t *testing.T) {
	t.Run("should return the child's result and share the budget", func(t *testing.T) {
		provider := llmtest.New("scripted").Script("w1", llmtest.Step{Response: llmtest.Text("42")})
		runner := newTestRunner(t, provider, nil)
		s := newSpawner(t, runner, config.SubagentModeAwait, 0)
		budget := agent.NewBudget(100)

		result, err := s.Spawn(context.Background(), parentContext(t, "main", 0, budget),
			agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		require.NoError(t, err)
		require.NoError(t, result.Err)

		assert.Equal(t, "42", result.Response)
		assert.Equal(t, "worker", result.AgentID)
		assert.True(t, strings.HasPrefix(result.SessionKey, "web:dm:1:sub:"))
		assert.Equal(t, int64(85), budget.Remaining())

		children := s.Registry().Children("web:dm:1")
		require.Len(t, children, 1)
		assert.Equal(t, StatusCompleted, children[0].Status)
		assert.Equal(t, 1, children[0].Depth)
		assert.Equal(t, result.SessionKey, children[0].ChildSessionKey)
		assert.Equal(t, result.RunID, children[0].RunID)
		assert.Empty(t, runner.ActiveRuns())
	})

	t.Run("should abort the child with its parent", func(t *testing.T) {
		provider := llmtest.New("scripted").Script("w1", llmtest.Step{Block: true})
		runner := newTestRunner(t, provider, nil)
		s := newSpawner(t, runner, "", 0)
		parent := parentContext(t, "main", 0, nil)

		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for s.Registry().CountActive("web:dm:1") == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			parent.Token.Abort()
		}()

		result, err := s.Spawn(context.Background(), parent, agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		require.NoError(t, err)
		assert.True(t, result.Aborted)
		assert.ErrorIs(t, result.Err, agent.ErrAborted)

		children := s.Registry().Children("web:dm:1")
		require.Len(t, children, 1)
		assert.Equal(t, StatusAborted, children[0].Status)
	})

	t.Run("should run through the parent's spawn tool", func(t *testing.T) {
		var mu sync.Mutex
		threads := map[string]string{}
		tools := agent.NewToolRegistry(time.Second, zerolog.Nop())
		require.NoError(t, tools.Register(agent.ToolDefinition{
			Name:        "probe",
			Description: "Records the caller's thread",
			Handler: func(_ context.Context, _ map[string]interface{}, tc agent.ToolContext) (interface{}, error) {
				mu.Lock()
				defer mu.Unlock()
				threads[tc.SessionKey] = tc.ThreadID
				return "ok", nil
			},
		}))

		provider := llmtest.New("scripted").
			Script("m1",
				llmtest.Step{Response: llmtest.ToolUse(llm.ToolCall{ID: "c0", Name: "probe"})},
				llmtest.Step{Response: llmtest.ToolUse(llm.ToolCall{
					ID:        "c1",
					Name:      agent.SpawnToolName,
					Arguments: map[string]interface{}{"agent_id": "worker", "task": "sum"},
				})},
				llmtest.Step{Response: llmtest.Text("the answer is 42")},
			).
			Script("w1",
				llmtest.Step{Response: llmtest.ToolUse(llm.ToolCall{ID: "c2", Name: "probe"})},
				llmtest.Step{Response: llmtest.Text("42")},
			)
		runner := newTestRunner(t, provider, tools)
		s := newSpawner(t, runner, "", 0)
		runner.SetSpawner(s)

		result, err := runner.Run(context.Background(), agent.RunParams{SessionKey: "web:dm:1", Prompt: "what is it?"})
		require.NoError(t, err)
		assert.Equal(t, "the answer is 42", result.Response)
		require.Len(t, result.ToolCalls, 2)
		assert.Equal(t, "42", result.ToolCalls[1].Result)
		assert.False(t, result.ToolCalls[1].IsError)

		children := s.Registry().Children("web:dm:1")
		require.Len(t, children, 1)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, threads, 2)
		assert.NotEmpty(t, threads["web:dm:1"])
		assert.Equal(t, threads["web:dm:1"], threads[children[0].ChildSessionKey])
	})
}

func TestSpawner_Detach(t *testing.T) {
	t.Run("should return immediately and track the child", func(t *testing.T) {
		provider := llmtest.New("scripted").Script("w1", llmtest.Step{Block: true}, llmtest.Step{Block: true})
		runner := newTestRunner(t, provider, nil)
		s := newSpawner(t, runner, config.SubagentModeDetach, 1)
		parent := parentContext(t, "main", 0, nil)

		result, err := s.Spawn(context.Background(), parent, agent.SpawnRequest{AgentID: "worker", Task: "sum"})
		require.NoError(t, err)
		assert.Contains(t, result.Response, "background")
		assert.Contains(t, runner.ActiveRuns(), result.SessionKey)

		t.Run("should cap active children", func(t *testing.T) {
			_, err := s.Spawn(context.Background(), parent, agent.SpawnRequest{AgentID: "worker", Task: "more"})
			assert.ErrorIs(t, err, ErrTooManyChildren)
		})

		t.Run("should outlive its parent", func(t *testing.T) {
			parent.Token.Abort()
			time.Sleep(20 * time.Millisecond)
			assert.Contains(t, runner.ActiveRuns(), result.SessionKey)
		})

		assert.True(t, runner.Abort(result.SessionKey))
		require.Eventually(t, func() bool {
			rec, ok := s.Registry().ByChildSession(result.SessionKey)
			return ok && rec.Status == StatusAborted
		}, 5*time.Second, 5*time.Millisecond)
	})
}
