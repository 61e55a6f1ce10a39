package resolver

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/ranya-engine/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agents = []config.AgentConfig{
		{ID: "main", Model: "sonnet", FallbackModels: []string{"gpt4o", "claude-sonnet-4", "flash"}},
		{ID: "support", Model: "gpt-4o"},
		{ID: "vip", Model: "opus", MaxSubagentDepth: 3},
		{ID: "ops", Model: "flash"},
	}
	cfg.DefaultAgent = "main"
	cfg.Bindings = []config.BindingConfig{
		{Agent: "vip", Channel: "telegram", PeerKind: "dm", PeerID: "42"},
		{Agent: "support", Channel: "Telegram"},
		{Agent: "ops", KeyPattern: "slack:channel:ops-*"},
	}
	return cfg
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(testConfig())
	require.NoError(t, err)
	return r
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		key  string
		want Scope
	}{
		{"telegram:dm:42", Scope{Key: "telegram:dm:42", Channel: "telegram", PeerKind: "dm", PeerID: "42"}},
		{"slack@acme:channel:C1", Scope{Key: "slack@acme:channel:C1", Channel: "slack", AccountID: "acme", PeerKind: "channel", PeerID: "C1"}},
		{"agent:vip:web:dm:7", Scope{Key: "agent:vip:web:dm:7", AgentID: "vip", Channel: "web", PeerKind: "dm", PeerID: "7"}},
		{"telegram:dm:42:sub:abc", Scope{Key: "telegram:dm:42:sub:abc", Channel: "telegram", PeerKind: "dm", PeerID: "42:sub:abc"}},
		{"agent:ops", Scope{Key: "agent:ops", AgentID: "ops"}},
		{"opaque", Scope{Key: "opaque", Channel: "opaque"}},
		{"", Scope{}},
	}

	for _, tt := range tests {
		t.Run("should parse "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScope(tt.key))
		})
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"most specific binding listed first wins", "telegram:dm:42", "vip"},
		{"channel binding matches case-insensitively", "telegram:group:99", "support"},
		{"key pattern binding", "slack:channel:ops-alerts", "ops"},
		{"unmatched key falls back to default", "slack:channel:general", "main"},
		{"pinned agent bypasses bindings", "agent:ops:telegram:dm:42", "ops"},
	}

	for _, tt := range tests {
		t.Run("should resolve "+tt.name, func(t *testing.T) {
			id, err := r.Resolve(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.ID)
		})
	}

	t.Run("should fail for pinned unknown agent", func(t *testing.T) {
		_, err := r.Resolve("agent:ghost:telegram:dm:1")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("should fail without binding or default", func(t *testing.T) {
		cfg := testConfig()
		cfg.DefaultAgent = ""
		r2, err := New(cfg)
		require.NoError(t, err)

		_, err = r2.Resolve("web:dm:1")
		assert.True(t, errors.Is(err, ErrAgentNotFound))
	})

	t.Run("should match account wildcard only when an account is present", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bindings = []config.BindingConfig{{Agent: "support", Channel: "slack", AccountID: "*"}}
		r2, err := New(cfg)
		require.NoError(t, err)

		id, err := r2.Resolve("slack@acme:dm:1")
		require.NoError(t, err)
		assert.Equal(t, "support", id.ID)

		id, err = r2.Resolve("slack:dm:1")
		require.NoError(t, err)
		assert.Equal(t, "main", id.ID)
	})
}

func TestNew(t *testing.T) {
	t.Run("should reject binding to unknown agent", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bindings = append(cfg.Bindings, config.BindingConfig{Agent: "ghost"})

		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("should reject malformed key pattern", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bindings = []config.BindingConfig{{Agent: "main", KeyPattern: "[unclosed"}}

		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("should apply default subagent depth", func(t *testing.T) {
		cfg := testConfig()
		cfg.Subagents.DefaultMaxDepth = 2
		r, err := New(cfg)
		require.NoError(t, err)

		main, err := r.Agent("main")
		require.NoError(t, err)
		assert.Equal(t, 2, main.MaxSubagentDepth)

		vip, err := r.Agent("vip")
		require.NoError(t, err)
		assert.Equal(t, 3, vip.MaxSubagentDepth)
	})

	t.Run("should list agents in configuration order", func(t *testing.T) {
		r := newTestResolver(t)
		var ids []string
		for _, a := range r.Agents() {
			ids = append(ids, a.ID)
		}
		assert.Equal(t, []string{"main", "support", "vip", "ops"}, ids)
	})
}

func TestModelChain(t *testing.T) {
	r := newTestResolver(t)

	t.Run("should expand aliases and drop duplicates keeping first position", func(t *testing.T) {
		main, err := r.Agent("main")
		require.NoError(t, err)

		chain, err := r.ModelChain(main)
		require.NoError(t, err)
		assert.Equal(t, ModelChain{"claude-sonnet-4", "gpt-4o", "gemini-2.0-flash"}, chain)
		assert.Equal(t, "claude-sonnet-4", chain.Primary())
		assert.True(t, chain.Contains("gpt-4o"))
		assert.False(t, chain.Contains("claude-opus-4"))
	})

	t.Run("should use fallbacks when primary is empty", func(t *testing.T) {
		chain, err := r.ModelChain(AgentIdentity{ID: "x", FallbackModels: []string{"opus"}})
		require.NoError(t, err)
		assert.Equal(t, ModelChain{"claude-opus-4"}, chain)
	})

	t.Run("should fail when no models are configured", func(t *testing.T) {
		_, err := r.ModelChain(AgentIdentity{ID: "empty", FallbackModels: []string{" "}})
		assert.ErrorIs(t, err, ErrNoModelsConfigured)
	})

	t.Run("should report context windows from the catalog", func(t *testing.T) {
		assert.Equal(t, 200000, r.ContextWindow("claude-sonnet-4"))
		assert.Equal(t, 128000, r.ContextWindow("unlisted-model"))
	})
}

func TestStore(t *testing.T) {
	t.Run("should swap resolvers and keep old snapshots intact", func(t *testing.T) {
		store := NewStore(newTestResolver(t), zerolog.Nop())
		before := store.Current()

		cfg := testConfig()
		cfg.DefaultAgent = "support"
		require.NoError(t, store.Update(cfg))

		id, err := store.Current().Resolve("web:dm:1")
		require.NoError(t, err)
		assert.Equal(t, "support", id.ID)

		id, err = before.Resolve("web:dm:1")
		require.NoError(t, err)
		assert.Equal(t, "main", id.ID)
	})

	t.Run("should keep the current resolver on invalid update", func(t *testing.T) {
		store := NewStore(newTestResolver(t), zerolog.Nop())
		current := store.Current()

		cfg := testConfig()
		cfg.DefaultAgent = "ghost"
		assert.Error(t, store.Update(cfg))
		assert.Same(t, current, store.Current())
	})

	t.Run("should be safe for concurrent readers and writers", func(t *testing.T) {
		store := NewStore(newTestResolver(t), zerolog.Nop())

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				store.OnReload(testConfig())
			}()
			go func() {
				defer wg.Done()
				_, err := store.Current().Resolve("telegram:dm:42")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}
