package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	})

	t.Run("valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	})

	t.Run("gemini keys have no prefix rule", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("AIza-anything", "gemini"))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})
}

func TestValidateModel(t *testing.T) {
	v := NewValidator()
	cfg := DefaultConfig()

	assert.NoError(t, v.ValidateModel(cfg, "sonnet"))
	assert.NoError(t, v.ValidateModel(cfg, "gpt-4o"))
	assert.Error(t, v.ValidateModel(cfg, "unknown-model"))
	assert.Error(t, v.ValidateModel(cfg, " "))

	cfg.Models.Catalog = nil
	assert.NoError(t, v.ValidateModel(cfg, "unknown-model"), "empty catalog accepts any model")
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0.7))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(2.5))

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))

	assert.NoError(t, v.ValidateLogLevel("debug"))
	assert.Error(t, v.ValidateLogLevel("verbose"))

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@every 5m"))
	assert.NoError(t, v.ValidateSchedule("*/10 * * * *"))
	assert.Error(t, v.ValidateSchedule("every now and then"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should pass with credentials", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers.Anthropic.APIKey = "sk-ant-abc"

		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("should require some credentials", func(t *testing.T) {
		cfg := DefaultConfig()

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 1)
	})

	t.Run("should collect every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers.Anthropic.APIKey = "bad"
		cfg.Agents[0].Model = "nope"
		cfg.Agents[0].Temperature = 5
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		// bad key format, unknown model, temperature, log level
		assert.Len(t, errs, 4)
	})
}
