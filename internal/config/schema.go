// Package config loads the cronsync YAML file, expands environment
// variables and checks that the module set can actually schedule work.
package config

import (
	"fmt"

	"github.com/flemzord/cronsync/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs (e.g. "store.postgres") to their raw YAML
	// configuration. Each module decodes its own node.
	Modules map[string]yaml.Node `yaml:"modules"`

	// Telemetry configures trace export. Optional.
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// Generic returns cfg as plain maps and slices, suitable for JSON output.
func Generic(cfg *Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}
