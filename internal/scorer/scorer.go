// Package scorer implements the Relevance Scorer: a bounded linear
// combination of recency, type prior, access frequency, active-context
// membership, and optional query similarity, minus a per-tier decay.
package scorer

import (
	"math"
	"sort"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/tiering"
)

// Similarity is the external text similarity contract from §6: pure,
// non-mutating, returns a value in [0,1]. A nil Similarity makes
// query_similarity contribute 0, per spec, without the engine losing
// determinism.
type Similarity func(query, content string) float64

// typePrior is the fixed table §4.D specifies.
var typePrior = map[entrytype.Type]float64{
	entrytype.SystemPrompt:     1.0,
	entrytype.UserMessage:      0.8,
	entrytype.AssistantMessage: 0.6,
	entrytype.FileRead:         0.6,
	entrytype.FileWrite:        0.6,
	entrytype.ToolResult:       0.4,
	entrytype.BashOutput:       0.4,
	entrytype.Other:            0.3,
}

// accessSaturation controls how quickly access_factor approaches 1; chosen
// so that a handful of repeat accesses already carries most of the signal
// without ever reaching exactly 1.
const accessSaturation = 5.0

// Context is the transient scoring input, §3's ScoringContext.
type Context struct {
	CurrentQuery    string
	ActiveFiles     []string
	ActiveTools     []string
	SessionID       string
	TimestampMS     int64
	RecentEntryIDs  []string
}

// Scorer binds the configured weights, tier bounds, and optional
// similarity function needed to score entries deterministically.
type Scorer struct {
	weights    config.ScoringWeights
	tiers      config.TiersConfig
	decayRate  float64
	similarity Similarity
}

// New builds a Scorer. similarity may be nil.
func New(weights config.ScoringWeights, tiers config.TiersConfig, decayRate float64, similarity Similarity) *Scorer {
	return &Scorer{weights: weights, tiers: tiers, decayRate: decayRate, similarity: similarity}
}

// Ranked is one scored entry, in the output of ScoreAll.
type Ranked struct {
	ID    string
	Score float64
}

// Score computes a single entry's relevance for the given context and now.
// Scoring never fails; any missing signal (no similarity function, entry
// not in active files/tools) simply contributes 0.
func (s *Scorer) Score(e entrystore.View, ctx Context, nowMS int64) float64 {
	tau := float64(s.tiers.Hot.MaxAgeMS)
	if tau <= 0 {
		tau = 1
	}

	recency := math.Exp(-float64(nowMS-e.LastAccessedAtMS) / tau)
	if nowMS <= e.LastAccessedAtMS {
		recency = 1
	}

	prior, ok := typePrior[e.Type]
	if !ok {
		prior = typePrior[entrytype.Other]
	}

	accessFactor := 1 - math.Exp(-float64(e.AccessCount)/accessSaturation)

	var fileMatch float64
	if e.Metadata.FilePath != "" && contains(ctx.ActiveFiles, e.Metadata.FilePath) {
		fileMatch = 1
	}

	var toolMatch float64
	if e.Metadata.ToolName != "" && contains(ctx.ActiveTools, e.Metadata.ToolName) {
		toolMatch = 1
	}

	var querySim float64
	if s.similarity != nil && ctx.CurrentQuery != "" {
		content := e.Content
		if e.Compressed != nil {
			content = e.Compressed.Summary
		}
		querySim = s.similarity(ctx.CurrentQuery, content)
	}

	base := s.weights.Recency*recency +
		s.weights.Type*prior +
		s.weights.Access*accessFactor +
		s.weights.File*fileMatch +
		s.weights.Tool*toolMatch +
		s.weights.Query*querySim

	score := base - tiering.Decay(e.Tier, s.decayRate)
	return clamp01(score)
}

// ScoreAll scores every entry in entries, writes the result back through
// store.SetRelevance, and returns the entries sorted by descending score.
func (s *Scorer) ScoreAll(store *entrystore.Store, entries []entrystore.View, ctx Context, nowMS int64) []Ranked {
	out := make([]Ranked, 0, len(entries))
	for _, e := range entries {
		score := s.Score(e, ctx, nowMS)
		_ = store.SetRelevance(e.ID, score)
		out = append(out, Ranked{ID: e.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
