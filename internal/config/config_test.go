package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestMergeWithDefaultsFillsOnlyZeroFields(t *testing.T) {
	cfg := Config{SoftThreshold: 0.4}
	merged := MergeWithDefaults(cfg)
	assert.Equal(t, 0.4, merged.SoftThreshold)
	assert.Equal(t, Default().HardThreshold, merged.HardThreshold)
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	cfg := Default()
	cfg.ContextWindowSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnorderedThresholds(t *testing.T) {
	cfg := Default()
	cfg.SoftThreshold = 0.9
	cfg.HardThreshold = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateClampsOutOfRangeUtilization(t *testing.T) {
	cfg := Default()
	cfg.TargetUtilization = 1.5
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1.0, cfg.TargetUtilization)
}

func TestValidateClampsDecayRateToExclusiveUpperBound(t *testing.T) {
	cfg := Default()
	cfg.DecayRate = 1.0
	require.NoError(t, cfg.Validate())
	assert.Less(t, cfg.DecayRate, 1.0)
}

func TestValidateFallsBackOnUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.Strategy = "made-up"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyRelevance, cfg.Strategy)
}

func TestValidateScalesDownOversizedScoringWeights(t *testing.T) {
	cfg := Default()
	cfg.ScoringWeights = ScoringWeights{Recency: 0.6, Type: 0.6}
	require.NoError(t, cfg.Validate())
	assert.LessOrEqual(t, cfg.ScoringWeights.sum(), 1.0+1e-9)
}

func TestParseLoadsPartialYAMLOverDefaults(t *testing.T) {
	yamlDoc := []byte("context_window_size: 4000\nstrategy: fifo\n")
	cfg, err := Parse(yamlDoc)
	require.NoError(t, err)
	assert.EqualValues(t, 4000, cfg.ContextWindowSize)
	assert.Equal(t, StrategyFIFO, cfg.Strategy)
	assert.Equal(t, Default().EmergencyThreshold, cfg.EmergencyThreshold)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().ContextWindowSize, cfg.ContextWindowSize)
}

func TestParseExpandsEnvVarWithDefault(t *testing.T) {
	t.Setenv("ICCO_TEST_SNAPSHOT_PATH", "")
	yamlDoc := []byte("snapshot_db_path: ${ICCO_TEST_SNAPSHOT_PATH:-/tmp/icco.db}\n")
	cfg, err := Parse(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/icco.db", cfg.SnapshotDBPath)
}

func TestParseExpandsEnvVarFromEnvironment(t *testing.T) {
	t.Setenv("ICCO_TEST_SNAPSHOT_PATH", "/var/data/icco.db")
	yamlDoc := []byte("snapshot_db_path: ${ICCO_TEST_SNAPSHOT_PATH:-/tmp/icco.db}\n")
	cfg, err := Parse(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "/var/data/icco.db", cfg.SnapshotDBPath)
}
