package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
)

func testWeights() config.ScoringWeights {
	return config.ScoringWeights{Recency: 0.3, Type: 0.2, Access: 0.15, File: 0.15, Tool: 0.1, Query: 0.1}
}

func testTiers() config.TiersConfig {
	return config.TiersConfig{
		Hot:  config.TierConfig{MaxAgeMS: 1000, CompressionRatio: 1.0},
		Warm: config.TierConfig{MaxAgeMS: 10000, CompressionRatio: 0.25},
		Cold: config.TierConfig{MaxAgeMS: 100000, CompressionRatio: 0.10},
	}
}

func TestScoreIsBoundedToUnitInterval(t *testing.T) {
	s := New(testWeights(), testTiers(), 0.05, nil)
	e := entrystore.View{Entry: entrystore.Entry{
		Type: entrytype.SystemPrompt, Tier: entrytype.Hot, AccessCount: 1000,
	}}
	score := s.Score(e, Context{}, 0)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreNeverFailsOnMissingSignals(t *testing.T) {
	s := New(testWeights(), testTiers(), 0.05, nil)
	e := entrystore.View{Entry: entrystore.Entry{Type: entrytype.Other}}
	score := s.Score(e, Context{CurrentQuery: "anything"}, 1000)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestSystemPromptScoresHigherThanOtherAllElseEqual(t *testing.T) {
	s := New(testWeights(), testTiers(), 0.05, nil)
	sp := entrystore.View{Entry: entrystore.Entry{Type: entrytype.SystemPrompt, Tier: entrytype.Hot}}
	other := entrystore.View{Entry: entrystore.Entry{Type: entrytype.Other, Tier: entrytype.Hot}}

	spScore := s.Score(sp, Context{}, 0)
	otherScore := s.Score(other, Context{}, 0)
	assert.Greater(t, spScore, otherScore)
}

func TestDecaySubtractsMoreForColderTiers(t *testing.T) {
	s := New(testWeights(), testTiers(), 0.1, nil)
	hot := entrystore.View{Entry: entrystore.Entry{Type: entrytype.Other, Tier: entrytype.Hot}}
	archived := entrystore.View{Entry: entrystore.Entry{Type: entrytype.Other, Tier: entrytype.Archived}}

	hotScore := s.Score(hot, Context{}, 0)
	archivedScore := s.Score(archived, Context{}, 0)
	assert.Greater(t, hotScore, archivedScore)
}

func TestFileMatchContributesOnlyWhenActive(t *testing.T) {
	s := New(testWeights(), testTiers(), 0.05, nil)
	e := entrystore.View{Entry: entrystore.Entry{
		Type: entrytype.FileRead, Tier: entrytype.Hot,
		Metadata: entrystore.Metadata{FilePath: "main.go"},
	}}

	withMatch := s.Score(e, Context{ActiveFiles: []string{"main.go"}}, 0)
	withoutMatch := s.Score(e, Context{ActiveFiles: []string{"other.go"}}, 0)
	assert.Greater(t, withMatch, withoutMatch)
}

func TestQuerySimilarityDelegatesToConfiguredFunction(t *testing.T) {
	called := false
	sim := func(query, content string) float64 {
		called = true
		return 0.75
	}
	s := New(testWeights(), testTiers(), 0.05, sim)
	e := entrystore.View{Entry: entrystore.Entry{Type: entrytype.Other, Tier: entrytype.Hot, Content: "x"}}
	_ = s.Score(e, Context{CurrentQuery: "q"}, 0)
	assert.True(t, called)
}

func TestScoreAllWritesRelevanceAndSortsDescending(t *testing.T) {
	store := entrystore.New(false)
	id1 := store.Insert(&entrystore.Entry{Type: entrytype.Other, Tier: entrytype.Hot, AccessCount: 0})
	id2 := store.Insert(&entrystore.Entry{Type: entrytype.SystemPrompt, Tier: entrytype.Hot, AccessCount: 0})

	s := New(testWeights(), testTiers(), 0.05, nil)
	ranked := s.ScoreAll(store, store.Iter(), Context{}, 0)

	require.Len(t, ranked, 2)
	assert.Equal(t, id2, ranked[0].ID, "system_prompt should outrank other at equal signals")
	assert.Equal(t, id1, ranked[1].ID)

	v1, _ := store.Get(id1)
	assert.Equal(t, ranked[1].Score, v1.Relevance)
}
