// Package config defines the cache engine's static configuration, loaded
// once at construction and treated as immutable thereafter (see the
// concurrency model: "Config is immutable after construction").
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog/log"
)

// Strategy selects the pruning candidate-ordering policy.
type Strategy string

const (
	StrategyFIFO      Strategy = "fifo"
	StrategyLRU       Strategy = "lru"
	StrategyRelevance Strategy = "relevance"
	StrategySemantic  Strategy = "semantic"
	StrategyAdaptive  Strategy = "adaptive"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyFIFO, StrategyLRU, StrategyRelevance, StrategySemantic, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// CompressionStrategy selects how demoted entries are reduced.
type CompressionStrategy string

const (
	CompressionSummary   CompressionStrategy = "summary"
	CompressionEmbedding CompressionStrategy = "embedding"
	CompressionHybrid    CompressionStrategy = "hybrid"
)

func (c CompressionStrategy) valid() bool {
	switch c {
	case CompressionSummary, CompressionEmbedding, CompressionHybrid:
		return true
	default:
		return false
	}
}

// TokenEstimator selects the bound Estimator implementation.
type TokenEstimator string

const (
	TokenEstimatorHeuristic TokenEstimator = "heuristic"
	TokenEstimatorTiktoken  TokenEstimator = "tiktoken"
)

// TierConfig bounds one temporal tier.
type TierConfig struct {
	MaxAgeMS         int64   `yaml:"max_age_ms"`
	CompressionRatio float64 `yaml:"compression_ratio"`
}

// TiersConfig holds the hot/warm/cold bounds. archived's compression ratio
// is implicitly 0.03 and is not configurable, per spec.
type TiersConfig struct {
	Hot  TierConfig `yaml:"hot"`
	Warm TierConfig `yaml:"warm"`
	Cold TierConfig `yaml:"cold"`
}

// ArchivedCompressionRatio is the fixed, non-configurable ratio applied when
// the pruning controller archives a cold entry under emergency pressure.
const ArchivedCompressionRatio = 0.03

// Config is the full, static engine configuration. Every field here is
// named identically to the Configuration struct described in §3; unknown
// YAML keys and out-of-range values are handled by Load/MergeWithDefaults,
// never by this type itself.
type Config struct {
	ContextWindowSize int64   `yaml:"context_window_size"`
	TargetUtilization float64 `yaml:"target_utilization"`

	SoftThreshold       float64  `yaml:"soft_threshold"`
	HardThreshold       float64  `yaml:"hard_threshold"`
	EmergencyThreshold  float64  `yaml:"emergency_threshold"`
	MinRelevance        float64  `yaml:"min_relevance"`
	PreserveRecentCount int      `yaml:"preserve_recent_count"`
	PreservePatterns    []string `yaml:"preserve_patterns"`

	Strategy Strategy `yaml:"strategy"`

	Tiers TiersConfig `yaml:"tiers"`

	CompressionStrategy CompressionStrategy `yaml:"compression_strategy"`
	PromoteOnAccess     bool                `yaml:"promote_on_access"`
	DecayRate           float64             `yaml:"decay_rate"`

	SessionIsolation bool `yaml:"session_isolation"`

	TokenEstimator    TokenEstimator `yaml:"token_estimator"`
	TiktokenEncoding  string         `yaml:"tiktoken_encoding"`

	ScoringWeights ScoringWeights `yaml:"scoring_weights"`

	SnapshotDBPath string `yaml:"snapshot_db_path"`
}

// ScoringWeights are the linear weights of §4.D's scoring function. They
// must sum to <= 1 before the per-tier decay subtraction; Validate enforces
// this.
type ScoringWeights struct {
	Recency float64 `yaml:"recency"`
	Type    float64 `yaml:"type"`
	Access  float64 `yaml:"access"`
	File    float64 `yaml:"file"`
	Tool    float64 `yaml:"tool"`
	Query   float64 `yaml:"query"`
}

func (w ScoringWeights) sum() float64 {
	return w.Recency + w.Type + w.Access + w.File + w.Tool + w.Query
}

// Default returns the documented default profile, used whenever config
// source is absent or a field is left at its zero value by
// MergeWithDefaults.
func Default() Config {
	return Config{
		ContextWindowSize:   128_000,
		TargetUtilization:   0.6,
		SoftThreshold:       0.5,
		HardThreshold:       0.7,
		EmergencyThreshold:  0.85,
		MinRelevance:        0.3,
		PreserveRecentCount: 5,
		PreservePatterns:    nil,
		Strategy:            StrategyRelevance,
		Tiers: TiersConfig{
			Hot:  TierConfig{MaxAgeMS: 5 * 60 * 1000, CompressionRatio: 1.0},
			Warm: TierConfig{MaxAgeMS: 30 * 60 * 1000, CompressionRatio: 0.25},
			Cold: TierConfig{MaxAgeMS: 2 * 60 * 60 * 1000, CompressionRatio: 0.10},
		},
		CompressionStrategy: CompressionSummary,
		PromoteOnAccess:     true,
		DecayRate:           0.05,
		SessionIsolation:    false,
		TokenEstimator:      TokenEstimatorHeuristic,
		TiktokenEncoding:    "cl100k_base",
		ScoringWeights: ScoringWeights{
			Recency: 0.30,
			Type:    0.20,
			Access:  0.15,
			File:    0.15,
			Tool:    0.10,
			Query:   0.10,
		},
		SnapshotDBPath: "",
	}
}

// MergeWithDefaults fills zero-valued numeric, string, and list fields of cfg
// from Default(), mirroring the teacher's WithDefaults(cfg) pattern: a config
// loaded from partial YAML only needs to specify the fields it overrides. A
// zero value therefore means "unset"; a tier is replaced as a whole when its
// max_age_ms is zero. The boolean fields and snapshot_db_path are kept as
// given.
func MergeWithDefaults(cfg Config) Config {
	d := Default()

	if cfg.ContextWindowSize == 0 {
		cfg.ContextWindowSize = d.ContextWindowSize
	}
	if cfg.TargetUtilization == 0 {
		cfg.TargetUtilization = d.TargetUtilization
	}
	if cfg.SoftThreshold == 0 {
		cfg.SoftThreshold = d.SoftThreshold
	}
	if cfg.HardThreshold == 0 {
		cfg.HardThreshold = d.HardThreshold
	}
	if cfg.EmergencyThreshold == 0 {
		cfg.EmergencyThreshold = d.EmergencyThreshold
	}
	if cfg.MinRelevance == 0 {
		cfg.MinRelevance = d.MinRelevance
	}
	if cfg.PreserveRecentCount == 0 {
		cfg.PreserveRecentCount = d.PreserveRecentCount
	}
	if len(cfg.PreservePatterns) == 0 {
		cfg.PreservePatterns = d.PreservePatterns
	}
	if cfg.Strategy == "" {
		cfg.Strategy = d.Strategy
	}
	if cfg.Tiers.Hot.MaxAgeMS == 0 {
		cfg.Tiers.Hot = d.Tiers.Hot
	}
	if cfg.Tiers.Warm.MaxAgeMS == 0 {
		cfg.Tiers.Warm = d.Tiers.Warm
	}
	if cfg.Tiers.Cold.MaxAgeMS == 0 {
		cfg.Tiers.Cold = d.Tiers.Cold
	}
	if cfg.CompressionStrategy == "" {
		cfg.CompressionStrategy = d.CompressionStrategy
	}
	if cfg.DecayRate == 0 {
		cfg.DecayRate = d.DecayRate
	}
	if cfg.TokenEstimator == "" {
		cfg.TokenEstimator = d.TokenEstimator
	}
	if cfg.TiktokenEncoding == "" {
		cfg.TiktokenEncoding = d.TiktokenEncoding
	}
	if cfg.ScoringWeights.sum() == 0 {
		cfg.ScoringWeights = d.ScoringWeights
	}
	return cfg
}

// Validate clamps out-of-range values to documented bounds, logging a
// warning for each, and returns an error only for conditions that make the
// engine impossible to run (InvalidConfig, per the error-kind catalogue) —
// construction must refuse to start in those cases.
func (c *Config) Validate() error {
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("config: context_window_size must be positive")
	}
	clamp01("target_utilization", &c.TargetUtilization)
	clamp01("soft_threshold", &c.SoftThreshold)
	clamp01("hard_threshold", &c.HardThreshold)
	clamp01("emergency_threshold", &c.EmergencyThreshold)
	clamp01("min_relevance", &c.MinRelevance)
	clamp01Exclusive("decay_rate", &c.DecayRate)

	if !(c.SoftThreshold < c.HardThreshold && c.HardThreshold < c.EmergencyThreshold) {
		return fmt.Errorf("config: thresholds must satisfy soft < hard < emergency, got %v < %v < %v",
			c.SoftThreshold, c.HardThreshold, c.EmergencyThreshold)
	}
	if c.PreserveRecentCount < 0 {
		log.Warn().Int("preserve_recent_count", c.PreserveRecentCount).Msg("config: preserve_recent_count negative, clamping to 0")
		c.PreserveRecentCount = 0
	}
	if !c.Strategy.valid() {
		log.Warn().Str("strategy", string(c.Strategy)).Msg("config: unknown strategy, defaulting to relevance")
		c.Strategy = StrategyRelevance
	}
	if !c.CompressionStrategy.valid() {
		log.Warn().Str("compression_strategy", string(c.CompressionStrategy)).Msg("config: unknown compression_strategy, defaulting to summary")
		c.CompressionStrategy = CompressionSummary
	}
	clampRatio("tiers.hot.compression_ratio", &c.Tiers.Hot.CompressionRatio)
	clampRatio("tiers.warm.compression_ratio", &c.Tiers.Warm.CompressionRatio)
	clampRatio("tiers.cold.compression_ratio", &c.Tiers.Cold.CompressionRatio)

	if sum := c.ScoringWeights.sum(); sum > 1.0 {
		log.Warn().Float64("sum", sum).Msg("config: scoring weights sum above 1, scaling down")
		scale := 1.0 / sum
		c.ScoringWeights.Recency *= scale
		c.ScoringWeights.Type *= scale
		c.ScoringWeights.Access *= scale
		c.ScoringWeights.File *= scale
		c.ScoringWeights.Tool *= scale
		c.ScoringWeights.Query *= scale
	}
	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default}; Parse expands these
// before decoding the document, so a config file can point
// snapshot_db_path or similar at an environment-supplied location without
// a templating layer.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults substitutes ${VAR:-default} references in a raw
// YAML document, in the teacher's expand-then-unmarshal style.
func expandEnvWithDefaults(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName, defaultValue := parts[1], ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func clamp01(field string, v *float64) {
	if *v < 0 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: value below 0, clamping")
		*v = 0
	} else if *v > 1 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: value above 1, clamping")
		*v = 1
	}
}

// clamp01Exclusive clamps to [0,1) per decay_rate's documented domain.
func clamp01Exclusive(field string, v *float64) {
	if *v < 0 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: value below 0, clamping")
		*v = 0
	} else if *v >= 1 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: value must be < 1, clamping")
		*v = 0.999
	}
}

// clampRatio clamps a compression ratio to (0,1], 0 is meaningless (it
// would imply manufacturing tokens from nothing on decompression).
func clampRatio(field string, v *float64) {
	if *v <= 0 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: ratio must be > 0, clamping to 1")
		*v = 1
	} else if *v > 1 {
		log.Warn().Str("field", field).Float64("value", *v).Msg("config: ratio above 1, clamping to 1")
		*v = 1
	}
}
