package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// agentsFile is the layout of a standalone agent definitions file
type agentsFile struct {
	Agents []AgentConfig `json:"agents" yaml:"agents"`
}

// LoadAgentsFile loads agent definitions from a JSON or YAML file
func LoadAgentsFile(path string) ([]AgentConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("agents file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("agents file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var file agentsFile
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON agents file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML agents file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported agents file format: %s (supported: .json, .yaml, .yml)", ext)
	}

	for i, a := range file.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agents file %s: agent %d: ID is required", path, i)
		}
	}

	return file.Agents, nil
}
