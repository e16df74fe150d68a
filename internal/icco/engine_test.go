package icco

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/context-optimizer/internal/clock"
	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/pruner"
	"github.com/icco/context-optimizer/internal/scorer"
)

func scenarioConfig() config.Config {
	return config.Config{
		ContextWindowSize:  1000,
		TargetUtilization:  0.6,
		SoftThreshold:      0.5,
		HardThreshold:      0.7,
		EmergencyThreshold: 0.85,
		MinRelevance:       0.3,
		Strategy:           config.StrategyRelevance,
		Tiers: config.TiersConfig{
			Hot:  config.TierConfig{MaxAgeMS: 1_000_000_000, CompressionRatio: 1.0},
			Warm: config.TierConfig{MaxAgeMS: 2_000_000_000, CompressionRatio: 0.25},
			Cold: config.TierConfig{MaxAgeMS: 3_000_000_000, CompressionRatio: 0.10},
		},
		CompressionStrategy: config.CompressionSummary,
		PromoteOnAccess:     true,
		DecayRate:           0.05,
		TokenEstimator:      config.TokenEstimatorHeuristic,
		ScoringWeights: config.ScoringWeights{
			Recency: 0.30, Type: 0.20, Access: 0.15, File: 0.15, Tool: 0.10, Query: 0.10,
		},
	}
}

func newEngine(t *testing.T, cfg config.Config, c *clock.Fixed) *Engine {
	t.Helper()
	e, err := New(cfg, WithClock(c))
	require.NoError(t, err)
	return e
}

func repeatWord(n int) string {
	return strings.Repeat("word ", n)
}

func TestScenario1ProactiveSoftPrune(t *testing.T) {
	cfg := scenarioConfig()
	fc := clock.NewFixed(1000)
	e := newEngine(t, cfg, fc)

	ids := make([]string, 6)
	for i := 0; i < 6; i++ {
		// repeatWord(70) -> 350 chars -> 100 tokens at file_read's 3.5
		// chars/token heuristic ratio, matching the scenario's 100-token
		// entries against a 1000-token window.
		ids[i] = e.Add(repeatWord(70), entrytype.FileRead, entrystore.Metadata{FilePath: string(rune('a' + i))})
	}
	// Bump e1's access count well above the rest so its recomputed
	// relevance score (access_factor contributes 0.15 of the weighted
	// total) clears the others by a wide margin, standing in for the
	// scenario's "e1.relevance=0.9, e2..e6=0.1" precondition — on_user_
	// prompt_submit always recomputes relevance from live signals rather
	// than accepting a caller-supplied override.
	for i := 0; i < 20; i++ {
		e.Access(ids[0])
	}

	result := e.OnUserPromptSubmit("q", "s")
	assert.Equal(t, pruner.LevelSoft, result.Level)
	assert.LessOrEqual(t, result.FinalUtilization, 0.6+1e-9)

	_, stillThere := e.store.Get(ids[0])
	assert.True(t, stillThere, "highest-relevance entry e1 must survive a soft prune")
}

func TestScenario3EmergencyArchival(t *testing.T) {
	cfg := scenarioConfig()
	// A higher target utilization pushes the emergency eviction target
	// (target_utilization - 0.10) up to 0.85, so only one 100-token entry
	// needs evicting before archival takes over the rest — isolating the
	// archival behavior from the eviction pass that precedes it.
	cfg.TargetUtilization = 0.95
	cfg.PreserveRecentCount = 2
	fc := clock.NewFixed(1000)
	e := newEngine(t, cfg, fc)

	// Entries are inserted directly into the cold tier (rather than aged
	// there through transition_tiers, which would also compress them)
	// so the scenario's starting utilization of 0.9 is exact: 9 entries
	// of 100 tokens against a 1000-token window.
	for i := 0; i < 9; i++ {
		e.store.Insert(&entrystore.Entry{
			Content: repeatWord(70), Type: entrytype.FileRead, Tokens: 100,
			Tier: entrytype.Cold, CreatedAtMS: int64(1000 + i), LastAccessedAtMS: int64(1000 + i),
			Relevance: 0.5,
		})
	}

	result := e.OnPreCompact("s")
	assert.Equal(t, pruner.LevelEmergency, result.Level)
	assert.LessOrEqual(t, result.FinalUtilization, 0.5+1e-9)

	archivedCount := 0
	for _, v := range e.store.Iter() {
		if v.Tier == entrytype.Archived {
			archivedCount++
			require.NotNil(t, v.Compressed)
			assert.LessOrEqual(t, v.Compressed.Ratio, 0.05+1e-9)
		}
	}
	assert.Greater(t, archivedCount, 0, "some cold entries should have been archived under emergency pressure")
}

func TestScenario5PromoteOnAccessViaFacade(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Tiers.Hot.MaxAgeMS = 100
	cfg.Tiers.Warm.MaxAgeMS = 200
	fc := clock.NewFixed(1000)
	e := newEngine(t, cfg, fc)

	id := e.Add(repeatWord(50), entrytype.FileRead, entrystore.Metadata{})

	fc.Advance(500)
	e.TransitionTiers()
	v, ok := e.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, entrytype.Cold, v.Tier)

	e.Access(id)
	e.TransitionTiers()

	v, ok = e.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, entrytype.Hot, v.Tier)
	assert.Nil(t, v.Compressed)
}

func TestScenario6SessionIsolation(t *testing.T) {
	cfg := scenarioConfig()
	cfg.SessionIsolation = true
	fc := clock.NewFixed(1000)
	e := newEngine(t, cfg, fc)

	e.Add("hello from A", entrytype.UserMessage, entrystore.Metadata{SessionID: "A"})

	ranked := e.ScoreAll(scorer.Context{SessionID: "B"})
	assert.Empty(t, ranked, "session B must not see session A's entries")

	entriesForB := e.GetEntries("B")
	assert.Empty(t, entriesForB)

	// Global accounting: A's tokens still count toward global utilization
	// even though B cannot see or prune them. Documented in DESIGN.md.
	assert.Greater(t, e.GetUtilization(), 0.0)
}

func TestEmptyStoreOnUserPromptSubmitIsLevelNone(t *testing.T) {
	fc := clock.NewFixed(1000)
	e := newEngine(t, scenarioConfig(), fc)
	result := e.OnUserPromptSubmit("q", "s")
	assert.Equal(t, pruner.LevelNone, result.Level)
	assert.Zero(t, result.TokensFreed)
}

func TestSaveSnapshotRestoreRoundTrip(t *testing.T) {
	fc := clock.NewFixed(1000)
	e := newEngine(t, scenarioConfig(), fc)

	e.Add("alpha content", entrytype.FileRead, entrystore.Metadata{FilePath: "a.go"})
	e.Add("beta content", entrytype.UserMessage, entrystore.Metadata{})
	e.ScoreAll(scorer.Context{CurrentQuery: "q"})

	ctx := context.Background()
	require.NoError(t, e.SaveSnapshot(ctx, "snap-1"))

	before := e.GetMetrics()
	beforeEntries := e.GetEntries("")

	e.Add("gamma, a mutation after the snapshot", entrytype.Other, entrystore.Metadata{})
	require.NoError(t, e.RestoreSnapshot(ctx, "snap-1"))

	after := e.GetMetrics()
	afterEntries := e.GetEntries("")

	assert.Equal(t, before.Adds, after.Adds)
	require.Len(t, afterEntries, len(beforeEntries))
	for i := range beforeEntries {
		assert.Equal(t, beforeEntries[i].ID, afterEntries[i].ID)
		assert.Equal(t, beforeEntries[i].Content, afterEntries[i].Content)
	}
}

func TestSaveSnapshotPatchesCountersWhenEntriesUnchanged(t *testing.T) {
	fc := clock.NewFixed(1000)
	e := newEngine(t, scenarioConfig(), fc)

	e.Add("alpha content", entrytype.FileRead, entrystore.Metadata{FilePath: "a.go"})
	ctx := context.Background()
	require.NoError(t, e.SaveSnapshot(ctx, "snap-counters"))

	entriesBefore := e.GetEntries("")
	e.Access(entriesBefore[0].ID)
	require.NoError(t, e.SaveSnapshot(ctx, "snap-counters"))

	require.NoError(t, e.RestoreSnapshot(ctx, "snap-counters"))
	after := e.GetMetrics()
	assert.Equal(t, int64(1), after.Adds)
	assert.Equal(t, int64(1), after.Accesses)
	assert.Len(t, e.GetEntries(""), 1)
}

func TestTotalEffectiveTokensInvariantHoldsAcrossFacadeOps(t *testing.T) {
	fc := clock.NewFixed(1000)
	e := newEngine(t, scenarioConfig(), fc)

	for i := 0; i < 5; i++ {
		e.Add(repeatWord(20), entrytype.FileRead, entrystore.Metadata{})
	}
	fc.Advance(10)
	e.TransitionTiers()
	e.OnUserPromptSubmit("q", "s")

	var sum int64
	for _, v := range e.store.Iter() {
		sum += int64(v.EffectiveTokens())
		assert.LessOrEqual(t, v.EffectiveTokens(), v.Tokens)
		if v.Tier == entrytype.Hot {
			assert.Nil(t, v.Compressed)
		}
	}
	assert.EqualValues(t, sum, e.store.TotalEffectiveTokens())
}

func TestTransitionTiersIsIdempotentWithoutClockAdvanceViaFacade(t *testing.T) {
	fc := clock.NewFixed(1000)
	e := newEngine(t, scenarioConfig(), fc)
	e.Add(repeatWord(400), entrytype.FileRead, entrystore.Metadata{})

	first := e.TransitionTiers()
	second := e.TransitionTiers()
	assert.Zero(t, second.HotToWarm+second.WarmToCold+second.ColdToArchived+second.Promotions)
	_ = first
}

