package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name against the catalog after alias expansion
func (v *Validator) ValidateModel(cfg *Config, model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(cfg.Models.Catalog) == 0 {
		return nil
	}
	resolved := cfg.ResolveModel(model)
	if _, ok := cfg.Models.Catalog[resolved]; !ok {
		return fmt.Errorf("model %s is not in the catalog", resolved)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron spec such as "@every 5m"
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil // Use default
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Providers referenced by the catalog need a key
	needed := map[string]bool{}
	for _, m := range cfg.Models.Catalog {
		needed[m.Provider] = true
	}
	keys := map[string]ProviderConfig{
		"anthropic": cfg.Providers.Anthropic,
		"openai":    cfg.Providers.OpenAI,
		"gemini":    cfg.Providers.Gemini,
	}
	for name, p := range keys {
		if !p.Configured() {
			continue
		}
		if err := v.ValidateAPIKey(p.APIKey, name); err != nil {
			errors = append(errors, fmt.Errorf("provider %s: %w", name, err))
		}
	}
	configured := false
	for name := range needed {
		if keys[name].Configured() {
			configured = true
		}
	}
	if len(needed) > 0 && !configured {
		errors = append(errors, fmt.Errorf("no provider credentials configured: set providers.<name>.api_key"))
	}

	for i, agent := range cfg.Agents {
		models := append([]string{}, agent.FallbackModels...)
		if agent.Model != "" {
			models = append([]string{agent.Model}, models...)
		}
		for _, m := range models {
			if err := v.ValidateModel(cfg, m); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if agent.Temperature != 0 {
			if err := v.ValidateTemperature(agent.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if agent.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(agent.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
	}

	if cfg.Failover.TransientRetries < 0 {
		errors = append(errors, fmt.Errorf("failover.transient_retries must be >= 0"))
	}
	if cfg.Failover.BaseDelayMs < 0 || cfg.Failover.MaxDelayMs < 0 {
		errors = append(errors, fmt.Errorf("failover delays must be >= 0"))
	}
	if cfg.Events.BufferSize < 0 {
		errors = append(errors, fmt.Errorf("events.buffer_size must be >= 0"))
	}
	if err := v.ValidateSchedule(cfg.Subagents.JanitorSchedule); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
