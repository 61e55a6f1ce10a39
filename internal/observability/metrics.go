package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelSwitchTotal  *prometheus.CounterVec
	providerRetries   *prometheus.CounterVec

	compactionTotal *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	eventsDropped  *prometheus.CounterVec
	subagentSpawns *prometheus.CounterVec
	configReloads  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by agent and terminal status.",
				},
				[]string{"agent", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_active_runs",
					Help: "Current number of non-terminal runs.",
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model calls by model and status.",
				},
				[]string{"model", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model call duration in seconds by model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			modelSwitchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_switch_total",
					Help: "Total failover switches by reason.",
				},
				[]string{"reason"},
			),
			providerRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_retry_total",
					Help: "Total same-model retries by error class.",
				},
				[]string{"class"},
			),
			compactionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compaction_total",
					Help: "Total compaction strategy applications by strategy and trigger.",
				},
				[]string{"strategy", "trigger"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tokens_total",
					Help: "Total tokens consumed by agent and direction.",
				},
				[]string{"agent", "direction"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			eventsDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "events_dropped_total",
					Help: "Total events dropped on full subscriber buffers by event type.",
				},
				[]string{"type"},
			),
			subagentSpawns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "subagent_spawn_total",
					Help: "Total subagent spawns by outcome.",
				},
				[]string{"outcome"},
			),
			configReloads: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "config_reload_total",
					Help: "Total configuration reloads by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.activeRuns,
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelSwitchTotal,
			m.providerRetries,
			m.compactionTotal,
			m.tokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.eventsDropped,
			m.subagentSpawns,
			m.configReloads,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRunStart() {
	getMetrics().activeRuns.Inc()
}

// RecordRunEnd closes a run started with RecordRunStart. status is completed, failed or aborted.
func RecordRunEnd(agentID, status string, duration time.Duration) {
	m := getMetrics()
	m.activeRuns.Dec()
	m.runTotal.WithLabelValues(agentID, status).Inc()
	m.runDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

func RecordModelCall(model string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(model, status).Inc()
	m.modelCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordModelSwitch(reason string) {
	getMetrics().modelSwitchTotal.WithLabelValues(reason).Inc()
}

func RecordProviderRetry(class string) {
	getMetrics().providerRetries.WithLabelValues(class).Inc()
}

func RecordCompaction(strategy, trigger string) {
	getMetrics().compactionTotal.WithLabelValues(strategy, trigger).Inc()
}

func RecordTokens(agentID string, input, output int) {
	m := getMetrics()
	m.tokensTotal.WithLabelValues(agentID, "input").Add(float64(input))
	m.tokensTotal.WithLabelValues(agentID, "output").Add(float64(output))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordEventDropped(eventType string) {
	getMetrics().eventsDropped.WithLabelValues(eventType).Inc()
}

func RecordSubagentSpawn(outcome string) {
	getMetrics().subagentSpawns.WithLabelValues(outcome).Inc()
}

func RecordConfigReload(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().configReloads.WithLabelValues(status).Inc()
}
