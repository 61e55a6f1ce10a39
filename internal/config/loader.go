package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetEnvPrefix("RANYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	// Missing file means defaults plus environment
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	bindEnv(v)

	// Lists replace the defaults instead of decoding over them element-wise
	if v.IsSet("agents") {
		cfg.Agents = nil
	}
	if v.IsSet("compaction.strategies") {
		cfg.Compaction.Strategies = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}

	if cfg.AgentsFile != "" {
		path := cfg.AgentsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		agents, err := LoadAgentsFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Agents = mergeAgents(cfg.Agents, agents)
	}

	return cfg, nil
}

// bindEnv registers keys that AutomaticEnv cannot discover on its own
// because they are absent from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"providers.anthropic.api_key",
		"providers.openai.api_key",
		"providers.gemini.api_key",
		"logging.level",
		"logging.file",
		"default_agent",
		"subagents.mode",
		"telemetry.audit_path",
	} {
		_ = v.BindEnv(key)
	}
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// mergeAgents overlays file agents on the inline list by id
func mergeAgents(base, overlay []AgentConfig) []AgentConfig {
	out := make([]AgentConfig, 0, len(base)+len(overlay))
	index := make(map[string]int, len(base))
	for _, a := range base {
		index[a.ID] = len(out)
		out = append(out, a)
	}
	for _, a := range overlay {
		if i, ok := index[a.ID]; ok {
			out[i] = a
			continue
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	return out
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ranya", "engine.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// LoadAndValidate loads the config and runs both structural and field validation
func LoadAndValidate(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if errs := NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errs[0])
	}
	return cfg, nil
}
