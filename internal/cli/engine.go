package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/internal/tracing"
	"github.com/harun/ranya-engine/pkg/agent"
	"github.com/harun/ranya-engine/pkg/compaction"
	"github.com/harun/ranya-engine/pkg/coretools"
	"github.com/harun/ranya-engine/pkg/events"
	"github.com/harun/ranya-engine/pkg/failover"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/resolver"
	"github.com/harun/ranya-engine/pkg/subagent"
)

// engine is the wired set of components one CLI invocation works with
type engine struct {
	cfg     *config.Config
	logger  zerolog.Logger
	router  *llm.Router
	store   *resolver.Store
	tools   *agent.ToolRegistry
	runner  *agent.Runner
	spawner *subagent.Spawner
	janitor *subagent.Janitor

	watcher *config.Watcher
	metrics *http.Server
}

// newEngine wires providers, resolution, tools, the runner and the spawner
// from cfg. Nothing runs in the background until start.
func newEngine(cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	if cfg.Telemetry.AuditPath != "" {
		if err := observability.InitAuditLogger(cfg.Telemetry.AuditPath); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	if err := tracing.InitOpenTelemetry(tracing.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}); err != nil {
		logger.Warn().Err(err).Msg("OpenTelemetry disabled")
	}

	res, err := resolver.New(cfg)
	if err != nil {
		return nil, err
	}
	store := resolver.NewStore(res, logger)

	router := buildRouter(cfg)

	tools := agent.NewToolRegistry(time.Duration(cfg.Execution.ToolTimeoutSeconds)*time.Second, logger)
	if cfg.Execution.WorkspaceRoot != "" {
		if err := coretools.Register(tools, coretools.Options{
			WorkspaceRoot: cfg.Execution.WorkspaceRoot,
			ReadOnly:      cfg.Execution.WorkspaceReadOnly,
		}); err != nil {
			return nil, err
		}
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:   router,
		Resolvers:  store,
		Bus:        events.NewBus(events.Config{BufferSize: cfg.Events.BufferSize, Logger: logger}),
		Compaction: buildCompaction(cfg.Compaction, router, logger),
		Failover:   failoverConfig(cfg.Failover),
		Tools:      tools,
		Limits: agent.Limits{
			MaxTurns:           cfg.Execution.MaxTurns,
			MaxParallelTools:   cfg.Execution.MaxParallelTools,
			MaxOverflowRetries: cfg.Execution.MaxOverflowRetries,
			MaxTokens:          cfg.Execution.MaxTokens,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	registry := subagent.NewRegistry(subagent.RegistryConfig{Logger: logger})
	spawner, err := subagent.NewSpawner(subagent.Config{
		Runner:            runner,
		Registry:          registry,
		Mode:              cfg.Subagents.Mode,
		MaxChildrenPerRun: cfg.Subagents.MaxChildrenPerRun,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	runner.SetSpawner(spawner)

	retention := time.Duration(cfg.Subagents.RetentionMinutes) * time.Minute
	janitor, err := subagent.NewJanitor(registry, retention, cfg.Subagents.JanitorSchedule, logger)
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		store:   store,
		tools:   tools,
		runner:  runner,
		spawner: spawner,
		janitor: janitor,
	}, nil
}

// buildRouter registers a provider per configured api key and routes every
// catalog model to its provider
func buildRouter(cfg *config.Config) *llm.Router {
	router := llm.NewRouter()

	if p := cfg.Providers.Anthropic; p.APIKey != "" {
		var opts []anthropicoption.RequestOption
		if p.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(p.BaseURL))
		}
		router.Register(llm.NewAnthropicProvider(p.APIKey, opts...))
	}
	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		var opts []openaioption.RequestOption
		if p.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(p.BaseURL))
		}
		router.Register(llm.NewOpenAIProvider(p.APIKey, opts...))
	}
	if p := cfg.Providers.Gemini; p.APIKey != "" {
		router.Register(llm.NewGeminiProvider(p.APIKey))
	}

	router.RoutePrefix("claude", "anthropic")
	router.RoutePrefix("gpt", "openai")
	router.RoutePrefix("o1", "openai")
	router.RoutePrefix("o3", "openai")
	router.RoutePrefix("gemini", "gemini")
	for id, m := range cfg.Models.Catalog {
		if m.Provider != "" {
			router.RouteAs(id, m.Provider, m.Name)
		}
	}
	return router
}

func buildCompaction(policy compaction.Policy, provider llm.Provider, logger zerolog.Logger) *compaction.Engine {
	var summarizer compaction.Summarizer = compaction.ExtractiveSummarizer{}
	if policy.SummaryModel != "" {
		summarizer = compaction.ModelSummarizer{Provider: provider, Model: policy.SummaryModel}
	}
	return compaction.NewEngine(compaction.Config{
		Policy:     policy,
		Summarizer: summarizer,
		Logger:     logger,
	})
}

func failoverConfig(c config.FailoverConfig) failover.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	// An explicit zero in the file means no retries, not the controller default
	retries := c.TransientRetries
	if retries == 0 {
		retries = -1
	}
	return failover.Config{
		TransientRetries:  retries,
		BaseDelay:         ms(c.BaseDelayMs),
		MaxDelay:          ms(c.MaxDelayMs),
		BackoffMultiplier: c.BackoffMultiplier,
		DisableJitter:     !c.Jitter,
		MaxRetryAfter:     ms(c.MaxRetryAfterMs),
		RateLimitBudget:   ms(c.RateLimitBudgetMs),
		DefaultRetryAfter: ms(c.DefaultRetryAfterMs),
	}
}

// start runs the janitor, and optionally the config watcher and the
// metrics endpoint
func (e *engine) start(configPath string, watch bool) error {
	e.janitor.Start()

	if watch {
		w, err := config.NewWatcher(config.WatcherConfig{ConfigPath: configPath, Logger: e.logger})
		if err != nil {
			return err
		}
		if path := e.cfg.AgentsFile; path != "" {
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(config.NewLoader(configPath).GetConfigPath()), path)
			}
			w.Watch(path)
		}
		w.Subscribe(e.store.OnReload)
		if err := w.Start(); err != nil {
			return err
		}
		e.watcher = w
	}

	if addr := e.cfg.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		e.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
		e.logger.Info().Str("addr", addr).Msg("Serving metrics")
	}
	return nil
}

// close stops background work and flushes telemetry
func (e *engine) close(ctx context.Context) {
	e.janitor.Stop()
	if e.watcher != nil {
		_ = e.watcher.Stop()
	}
	if e.metrics != nil {
		_ = e.metrics.Shutdown(ctx)
	}
	_ = observability.GetAuditLogger().Close()
	_ = tracing.ShutdownOpenTelemetry(ctx)
}
