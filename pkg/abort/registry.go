// Package abort tracks the cancellation token of every active run.
//
// Register is the single enforcement point of one active run per session
// key: check and insert happen under one lock.
package abort

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrConcurrentRunRejected is returned when a session already has an active run
	ErrConcurrentRunRejected = errors.New("concurrent run rejected")
	// ErrAborted is the cancellation cause of an aborted token
	ErrAborted = errors.New("run aborted")
)

// Token is the cooperative cancellation handle of one run
type Token struct {
	key    string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Key returns the session key the token was registered under
func (t *Token) Key() string {
	return t.key
}

// Context returns a context cancelled when the token is aborted
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed once the token is aborted
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Aborted reports whether the token has been triggered
func (t *Token) Aborted() bool {
	return t.ctx.Err() != nil
}

// Err returns the cancellation cause, nil while the token is live
func (t *Token) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return context.Cause(t.ctx)
}

// Abort triggers the token and every token derived from it
func (t *Token) Abort() {
	t.cancel(ErrAborted)
}

// Registry maps session keys to live tokens.
// Backed by a sync.Map so unrelated sessions never contend on one lock.
type Registry struct {
	tokens sync.Map // session key -> *Token
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register creates a token for key, derived from ctx.
// Fails with ErrConcurrentRunRejected while key holds a token that has not
// been released, including one that is aborted but still winding down.
func (r *Registry) Register(ctx context.Context, key string) (*Token, error) {
	return r.register(ctx, key)
}

// RegisterChild creates a token for key derived from parent, so aborting
// the parent also aborts the child.
func (r *Registry) RegisterChild(key string, parent *Token) (*Token, error) {
	if parent == nil {
		return nil, fmt.Errorf("register child %q: nil parent token", key)
	}
	return r.register(parent.ctx, key)
}

func (r *Registry) register(ctx context.Context, key string) (*Token, error) {
	tctx, cancel := context.WithCancelCause(ctx)
	token := &Token{key: key, ctx: tctx, cancel: cancel}

	if _, loaded := r.tokens.LoadOrStore(key, token); loaded {
		cancel(context.Canceled)
		return nil, fmt.Errorf("%w: session %s", ErrConcurrentRunRejected, key)
	}
	return token, nil
}

// Abort triggers the token registered under key and acknowledges with true.
// Unknown keys are a no-op and return false.
func (r *Registry) Abort(key string) bool {
	v, ok := r.tokens.Load(key)
	if !ok {
		return false
	}
	v.(*Token).Abort()
	return true
}

// Release removes token from the registry if it is still the one held for its key.
// The token's context is cancelled to free its resources.
func (r *Registry) Release(token *Token) {
	if token == nil {
		return
	}
	r.tokens.CompareAndDelete(token.key, token)
	token.cancel(context.Canceled)
}

// IsActive reports whether key holds a token
func (r *Registry) IsActive(key string) bool {
	_, ok := r.tokens.Load(key)
	return ok
}

// Active returns the keys holding tokens, sorted
func (r *Registry) Active() []string {
	var keys []string
	r.tokens.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
