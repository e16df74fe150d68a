package pruner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
)

func TestMatchesAnyPatternSubstringAndGlob(t *testing.T) {
	assert.True(t, matchesAnyPattern("config/app.yaml", []string{"config/"}))
	assert.True(t, matchesAnyPattern("src/main.go", []string{"*.go"}))
	assert.False(t, matchesAnyPattern("src/main.py", []string{"*.go", "config/"}))
}

func TestApplyPreservationRulesDropsSystemPromptPatternsRecentAndRelevance(t *testing.T) {
	cfg := config.Default()
	cfg.PreservePatterns = []string{"config/"}
	cfg.PreserveRecentCount = 1
	cfg.MinRelevance = 0.5

	entries := []entrystore.View{
		{Entry: entrystore.Entry{ID: "sp", Type: entrytype.SystemPrompt, Relevance: 0.1, CreatedAtMS: 1}},
		{Entry: entrystore.Entry{ID: "cfg", Type: entrytype.Other, Relevance: 0.1, CreatedAtMS: 2, Metadata: entrystore.Metadata{FilePath: "config/x.yaml"}}},
		{Entry: entrystore.Entry{ID: "recent", Type: entrytype.Other, Relevance: 0.1, CreatedAtMS: 100}},
		{Entry: entrystore.Entry{ID: "high-rel", Type: entrytype.Other, Relevance: 0.9, CreatedAtMS: 3}},
		{Entry: entrystore.Entry{ID: "evictable", Type: entrytype.Other, Relevance: 0.1, CreatedAtMS: 4}},
	}

	out := applyPreservationRules(entries, cfg, LevelHard)
	ids := map[string]bool{}
	for _, e := range out {
		ids[e.ID] = true
	}

	assert.False(t, ids["sp"])
	assert.False(t, ids["cfg"])
	assert.False(t, ids["recent"])
	assert.False(t, ids["high-rel"])
	assert.True(t, ids["evictable"])
}

func TestApplyPreservationRulesIgnoresMinRelevanceAtEmergency(t *testing.T) {
	cfg := config.Default()
	cfg.MinRelevance = 0.9
	cfg.PreserveRecentCount = 0

	entries := []entrystore.View{
		{Entry: entrystore.Entry{ID: "a", Type: entrytype.Other, Relevance: 0.95, CreatedAtMS: 1}},
	}
	out := applyPreservationRules(entries, cfg, LevelEmergency)
	assert.Len(t, out, 1, "min_relevance filter must be skipped entirely at emergency level")
}

func TestAdaptiveStateFallsBackToRelevanceWithoutSignal(t *testing.T) {
	a := &AdaptiveState{}
	assert.Equal(t, 1.0, a.blendWeight())
}

func TestAdaptiveStateMovesWithObservations(t *testing.T) {
	a := &AdaptiveState{}
	a.RecordHit(false)
	a.RecordPreventionOutcome(false)
	assert.Less(t, a.blendWeight(), 1.0)
}
