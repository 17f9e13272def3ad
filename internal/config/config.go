// Package config loads the text-generation backend chain: an ordered list
// of {endpoint, model, credential} entries. The first entry is the primary;
// the rest are fallbacks tried only on retryable failures.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend is one configured text-generation endpoint/model pair.
type Backend struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKey may reference the environment, e.g. "${OPENROUTER_API_KEY}".
	APIKey string `yaml:"api_key"`
}

// Config is the on-disk backends file.
type Config struct {
	Backends []Backend `yaml:"backends"`
}

// Load reads, parses, and validates a backends file. Environment references
// in api_key values are expanded.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read backends config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates raw YAML.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Backends) == 0 {
		return Config{}, fmt.Errorf("no backends configured")
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.Model = strings.TrimSpace(b.Model)
		if b.Model == "" {
			return Config{}, fmt.Errorf("backend %d: model is required", i)
		}
		b.APIKey = strings.TrimSpace(os.ExpandEnv(b.APIKey))
	}
	return cfg, nil
}
