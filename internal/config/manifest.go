package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentManifest is an optional YAML-form notebook agent manifest
// (<directory>/.agent.yaml) layered in alongside the JSON/JSONC config
// files. It carries the parts of configuration a notebook author is more
// likely to hand-edit than the rest of the runtime config.
type AgentManifest struct {
	SystemPrompt  string   `yaml:"systemPrompt,omitempty"`
	MaxIterations int      `yaml:"maxIterations,omitempty"`
	Model         string   `yaml:"model,omitempty"`
	Tools         []string `yaml:"tools,omitempty"`
}

// loadAgentManifest loads <directory>/.agent.yaml if present. A missing
// file is not an error — the manifest is entirely optional.
func loadAgentManifest(directory string) (*AgentManifest, error) {
	if directory == "" {
		return nil, nil
	}

	path := filepath.Join(directory, ".agent.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifest AgentManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// applyManifest folds manifest fields into cfg wherever the manifest sets
// them; the manifest never clears a value the environment or a config file
// already supplied with an unset zero value.
func applyManifest(cfg *Config, manifest *AgentManifest) {
	if manifest.Model != "" {
		cfg.Model = manifest.Model
	}
	if manifest.MaxIterations != 0 {
		cfg.MaxIterations = manifest.MaxIterations
	}
	if len(manifest.Tools) != 0 {
		cfg.EnabledTools = manifest.Tools
	}
}
