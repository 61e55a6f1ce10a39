// Package llm defines the model-provider capability consumed by the engine.
//
// Invariants:
// - The engine only sees Request, Delta and Response; wire formats stay in adapters.
// - Every provider failure reaching the engine is classifiable through Classify.
// - Adapters are selected per model id through a Router at configuration time.
//
// Usage:
//
//	router := llm.NewRouter()
//	router.Register(llm.NewAnthropicProvider(apiKey))
//	router.RoutePrefix("claude", "anthropic")
//	provider, _ := router.For("claude-sonnet-4")
//	deltas, _ := provider.StreamCompletion(ctx, llm.Request{Model: "claude-sonnet-4"})
//	resp, _ := llm.Collect(ctx, deltas, nil)
//	_ = resp
package llm
