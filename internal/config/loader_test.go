package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/ranya-engine/pkg/compaction"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should load defaults when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Agents, cfg.Agents)
		assert.Equal(t, filepath.Dir(configPath), cfg.DataDir)
	})

	t.Run("should load JSON config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "engine.json")
		testConfig := `{
			"default_agent": "coder",
			"agents": [
				{"id": "coder", "model": "opus", "fallback_models": ["gpt4o"], "max_subagent_depth": 3}
			],
			"providers": {"anthropic": {"api_key": "sk-ant-test"}},
			"compaction": {"strategies": ["hard_clear"]}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "coder", cfg.DefaultAgent)
		require.Len(t, cfg.Agents, 1)
		assert.Equal(t, "coder", cfg.Agents[0].ID)
		assert.Equal(t, 3, cfg.Agents[0].MaxSubagentDepth)
		assert.Empty(t, cfg.Agents[0].Tools.Allow, "file agents must not inherit default agent fields")
		assert.Equal(t, "sk-ant-test", cfg.Providers.Anthropic.APIKey)
		assert.Equal(t, []compaction.Strategy{compaction.StrategyHardClear}, cfg.Compaction.Strategies)
		// Untouched sections keep their defaults
		assert.Equal(t, 0.8, cfg.Compaction.GuardThreshold)
		assert.Equal(t, "claude-opus-4", cfg.Models.Aliases["opus"])
	})

	t.Run("should load YAML config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "engine.yaml")
		testConfig := "logging:\n  level: debug\nsubagents:\n  mode: detach\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, SubagentModeDetach, cfg.Subagents.Mode)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "engine.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))
		t.Setenv("RANYA_PROVIDERS_OPENAI_API_KEY", "sk-from-env")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Providers.OpenAI.APIKey)
	})

	t.Run("should merge agents file by id", func(t *testing.T) {
		dir := t.TempDir()
		agentsPath := filepath.Join(dir, "agents.yaml")
		agentsYAML := "agents:\n  - id: default\n    model: opus\n  - id: reviewer\n    model: gpt4o\n"
		require.NoError(t, os.WriteFile(agentsPath, []byte(agentsYAML), 0644))
		configPath := filepath.Join(dir, "engine.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"agents_file": "agents.yaml"}`), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		require.Len(t, cfg.Agents, 2)
		assert.Equal(t, "opus", cfg.Agents[0].Model)
		assert.Equal(t, "reviewer", cfg.Agents[1].ID)
	})

	t.Run("should fail on invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoadAndValidate(t *testing.T) {
	t.Run("should reject config without credentials", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "engine.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

		_, err := LoadAndValidate(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "credentials")
	})

	t.Run("should accept config with credentials", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "engine.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"providers": {"anthropic": {"api_key": "sk-ant-abc"}}}`), 0644))

		cfg, err := LoadAndValidate(configPath)
		require.NoError(t, err)
		assert.True(t, cfg.Providers.Anthropic.Configured())
	})
}

func TestLoadAgentsFile(t *testing.T) {
	t.Run("should load JSON agents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"agents": [{"id": "a", "model": "m", "skills": ["search"]}]}`), 0644))

		agents, err := LoadAgentsFile(path)
		require.NoError(t, err)
		require.Len(t, agents, 1)
		assert.Equal(t, []string{"search"}, agents[0].Skills)
	})

	t.Run("should load YAML agents with nested policy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yml")
		data := "agents:\n  - id: a\n    model: m\n    allowed_subagent_models: [x, y]\n    tools:\n      deny: [shell]\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))

		agents, err := LoadAgentsFile(path)
		require.NoError(t, err)
		require.Len(t, agents, 1)
		assert.Equal(t, []string{"x", "y"}, agents[0].AllowedSubagentModels)
		assert.Equal(t, []string{"shell"}, agents[0].Tools.Deny)
	})

	t.Run("should reject unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0644))

		_, err := LoadAgentsFile(path)
		assert.ErrorContains(t, err, "unsupported")
	})

	t.Run("should reject agent without id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agents:\n  - model: m\n"), 0644))

		_, err := LoadAgentsFile(path)
		assert.ErrorContains(t, err, "ID is required")
	})

	t.Run("should report missing file", func(t *testing.T) {
		_, err := LoadAgentsFile(filepath.Join(t.TempDir(), "none.yaml"))
		assert.ErrorContains(t, err, "not found")
	})
}
