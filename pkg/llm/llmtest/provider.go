// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/harun/ranya-engine/pkg/llm"
)

// Step is one scripted reply. Exactly one of Err or Response is used.
type Step struct {
	Response *llm.Response
	Err      error
	// Block makes the call wait until the context is cancelled
	Block bool
	// Partial is streamed as text before Err is delivered mid-stream
	Partial string
}

// Provider replays scripted steps per model and records every request.
type Provider struct {
	name string

	mu       sync.Mutex
	scripts  map[string][]Step
	fallback func(llm.Request) Step
	calls    []llm.Request
}

// New creates a scripted provider
func New(name string) *Provider {
	return &Provider{name: name, scripts: make(map[string][]Step)}
}

// Script appends steps for a model
func (p *Provider) Script(model string, steps ...Step) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[model] = append(p.scripts[model], steps...)
	return p
}

// Fallback answers when a model's script is exhausted
func (p *Provider) Fallback(fn func(llm.Request) Step) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = fn
	return p
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// StreamCompletion pops the next scripted step for request.Model
func (p *Provider) StreamCompletion(ctx context.Context, request llm.Request) (<-chan llm.Delta, error) {
	p.mu.Lock()
	snapshot := request
	snapshot.Messages = request.Messages.Clone()
	p.calls = append(p.calls, snapshot)

	var step Step
	if steps := p.scripts[request.Model]; len(steps) > 0 {
		step = steps[0]
		p.scripts[request.Model] = steps[1:]
	} else if p.fallback != nil {
		step = p.fallback(request)
	} else {
		step = Step{Response: Text("")}
	}
	p.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil && step.Partial != "" {
		ch := make(chan llm.Delta, 2)
		ch <- llm.Delta{Type: llm.DeltaText, Text: step.Partial}
		ch <- llm.Delta{Type: llm.DeltaError, Err: step.Err}
		close(ch)
		return ch, nil
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return llm.Replay(step.Response), nil
}

// Calls returns the requests seen so far
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// Models returns the model of each request seen so far
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Model)
	}
	return out
}

// Text builds a final text response
func Text(text string) *llm.Response {
	return &llm.Response{
		Text:       text,
		StopReason: llm.StopEnd,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// ToolUse builds a response requesting the given tool calls
func ToolUse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		ToolCalls:  calls,
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// Fail builds a classified provider error
func Fail(class llm.ErrorClass) error {
	return &llm.ProviderError{Class: class, Provider: "scripted", Message: string(class)}
}
