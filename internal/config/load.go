package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML document from path, merges it over Default(), and
// validates the result. A missing file yields the documented default
// profile rather than an error, per §6's config source contract.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config: file not found, using defaults")
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document directly, for callers (tests, the
// interactive wizard) that don't have a file on disk. ${VAR:-default}
// references are expanded before parsing, so a config file can point
// snapshot_db_path or similar at an environment-supplied location without
// a templating layer.
func Parse(data []byte) (Config, error) {
	data = []byte(expandEnvWithDefaults(string(data)))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	// KnownFields is intentionally left off: unknown keys are a warning,
	// not a hard failure.
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("config: parsing yaml: %w", err)
	}
	warnUnknownKeys(raw)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	cfg = MergeWithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var knownTopLevelKeys = map[string]bool{
	"context_window_size": true, "target_utilization": true,
	"soft_threshold": true, "hard_threshold": true, "emergency_threshold": true,
	"min_relevance": true, "preserve_recent_count": true, "preserve_patterns": true,
	"strategy": true, "tiers": true, "compression_strategy": true,
	"promote_on_access": true, "decay_rate": true, "session_isolation": true,
	"token_estimator": true, "tiktoken_encoding": true, "scoring_weights": true,
	"snapshot_db_path": true,
}

func warnUnknownKeys(raw map[string]interface{}) {
	for k := range raw {
		if !knownTopLevelKeys[k] {
			log.Warn().Str("key", k).Msg("config: unknown key ignored")
		}
	}
}
