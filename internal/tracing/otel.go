package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used by engine components
const (
	TracerAgent      = "ranya.agent"
	TracerFailover   = "ranya.failover"
	TracerSubagent   = "ranya.subagent"
	TracerCompaction = "ranya.compaction"
)

// Options configures the process tracer provider
type Options struct {
	ServiceName string
	// SampleRatio is the fraction of root runs traced. Children follow
	// their parent's decision. Zero means 1.
	SampleRatio float64
	// Processors receive finished spans, e.g. an exporter's batcher
	Processors []sdktrace.SpanProcessor
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the process-wide tracer provider. Only the first
// call has an effect.
func InitOpenTelemetry(opts Options) error {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
		)
		if err != nil {
			providerErr = err
			return
		}

		ratio := opts.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		tpOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		}
		for _, p := range opts.Processors {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
		}
		tp := sdktrace.NewTracerProvider(tpOpts...)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()
		otel.SetTracerProvider(tp)
	})
	return providerErr
}

// ShutdownOpenTelemetry flushes pending spans and stops the provider
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the run, agent and session of ctx. A
// context without a trace id adopts the span's.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tc := FromContext(ctx)
	for _, kv := range []struct{ key, value string }{
		{"ranya.run_id", tc.RunID},
		{"ranya.agent_id", tc.AgentID},
		{"ranya.session_key", tc.SessionKey},
		{"ranya.parent_session_key", tc.ParentSessionKey},
	} {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if tc.TraceID == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
