package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider is the capability every model adapter implements
type Provider interface {
	// StreamCompletion starts a model call and streams its deltas.
	// The channel is closed after a stop or error delta.
	StreamCompletion(ctx context.Context, request Request) (<-chan Delta, error)

	// Name returns the provider name
	Name() string
}

// Router selects a provider per model id
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	models    map[string]string
	upstream  map[string]string
	prefixes  map[string]string
	fallback  string
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
		upstream:  make(map[string]string),
		prefixes:  make(map[string]string),
	}
}

// Register adds a provider under its name
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Route binds an exact model id to a provider name
func (r *Router) Route(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = provider
}

// RouteAs binds a model id to a provider that knows it under another name
func (r *Router) RouteAs(model, provider, upstream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = provider
	if upstream != "" && upstream != model {
		r.upstream[model] = upstream
	}
}

// RoutePrefix binds every model id starting with prefix to a provider name
func (r *Router) RoutePrefix(prefix, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = provider
}

// SetFallback sets the provider used when nothing else matches
func (r *Router) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// For returns the provider serving model
func (r *Router) For(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[model]
	if !ok {
		// Longest prefix wins
		best := ""
		for prefix, provider := range r.prefixes {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best = prefix
				name = provider
			}
		}
		if best == "" {
			name = r.fallback
		}
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}
	return p, nil
}

// Providers returns the registered provider names, sorted
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamCompletion dispatches to the provider routed for request.Model,
// so a Router can stand in wherever a single Provider is expected.
func (r *Router) StreamCompletion(ctx context.Context, request Request) (<-chan Delta, error) {
	p, err := r.For(request.Model)
	if err != nil {
		return nil, &ProviderError{Class: ClassUnavailable, Model: request.Model, Cause: err}
	}

	r.mu.RLock()
	name, renamed := r.upstream[request.Model]
	r.mu.RUnlock()
	if renamed {
		request.Model = name
	}
	return p.StreamCompletion(ctx, request)
}

// Name returns "router"
func (r *Router) Name() string {
	return "router"
}
