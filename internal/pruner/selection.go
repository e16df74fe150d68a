package pruner

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/scorer"
)

// Advisor is the narrow slice of the Advisor Plugin Interface (§4.H) the
// pruner consumes: an optional reordering of candidates. A nil Advisor (or
// one whose AdvisePrune returns nil) means "no opinion, use the
// deterministic path" — defined here, rather than imported from the
// advisor package, so pruner has no dependency on that package; advisor
// satisfies this interface structurally.
type Advisor interface {
	AdvisePrune(candidates []string, ctx scorer.Context) []string
}

// AdaptiveState tracks the moving averages the adaptive strategy blends:
// recent cache-hit rate and recent compaction-prevention success. Both are
// exponential moving averages in [0,1].
type AdaptiveState struct {
	hitRate          float64
	preventionSuccess float64
	initialized      bool
}

const adaptiveEMAAlpha = 0.2

// RecordHit folds one cache-hit/miss observation into the moving average.
func (a *AdaptiveState) RecordHit(hit bool) {
	v := 0.0
	if hit {
		v = 1.0
	}
	a.hitRate = ema(a.hitRate, v, a.initialized)
	a.initialized = true
}

// RecordPreventionOutcome folds one "did this prune avoid a host-triggered
// compaction" observation into the moving average.
func (a *AdaptiveState) RecordPreventionOutcome(prevented bool) {
	v := 0.0
	if prevented {
		v = 1.0
	}
	a.preventionSuccess = ema(a.preventionSuccess, v, a.initialized)
	a.initialized = true
}

// blendWeight is the adaptive strategy's relevance/lru mix: the average of
// the two moving averages, per the spec's "weights are set by a moving
// average of (recent hit rate, recent compaction-prevention success)".
func (a *AdaptiveState) blendWeight() float64 {
	if !a.initialized {
		return 1.0 // no signal yet: behave exactly like relevance
	}
	return (a.hitRate + a.preventionSuccess) / 2
}

func ema(prev, sample float64, initialized bool) float64 {
	if !initialized {
		return sample
	}
	return adaptiveEMAAlpha*sample + (1-adaptiveEMAAlpha)*prev
}

// orderCandidates produces the ordered candidate list for strategy, before
// any preservation filtering. Ordering is ascending "most evictable first":
// fifo/lru/relevance/semantic each expose a single deterministic sort key,
// exactly the tagged-variant dispatch the design notes call for — one
// switch, a free function per strategy, no class hierarchy.
func orderCandidates(strategy config.Strategy, entries []entrystore.View, ctx scorer.Context, similarity scorer.Similarity, adaptive *AdaptiveState) []entrystore.View {
	out := make([]entrystore.View, len(entries))
	copy(out, entries)

	switch strategy {
	case config.StrategyFIFO:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	case config.StrategyLRU:
		sort.SliceStable(out, func(i, j int) bool { return out[i].LastAccessedAtMS < out[j].LastAccessedAtMS })
	case config.StrategySemantic:
		sort.SliceStable(out, func(i, j int) bool {
			return semanticKey(out[i], ctx, similarity) < semanticKey(out[j], ctx, similarity)
		})
	case config.StrategyAdaptive:
		if adaptive == nil {
			sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance < out[j].Relevance })
			break
		}
		w := adaptive.blendWeight()
		sort.SliceStable(out, func(i, j int) bool {
			return adaptiveKey(out[i], out, w) < adaptiveKey(out[j], out, w)
		})
	default: // relevance
		sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance < out[j].Relevance })
	}
	return out
}

func semanticKey(e entrystore.View, ctx scorer.Context, similarity scorer.Similarity) float64 {
	if similarity == nil || ctx.CurrentQuery == "" {
		return 1.0
	}
	content := e.Content
	if e.Compressed != nil {
		content = e.Compressed.Summary
	}
	return 1 - similarity(ctx.CurrentQuery, content)
}

// adaptiveKey blends a relevance rank and an lru rank, both normalized to
// [0,1] over the candidate set, weighted by w (1 = pure relevance, 0 =
// pure lru).
func adaptiveKey(e entrystore.View, all []entrystore.View, w float64) float64 {
	relRank := normalizedRank(e.Relevance, extract(all, func(v entrystore.View) float64 { return v.Relevance }))
	lruRank := normalizedRank(float64(e.LastAccessedAtMS), extract(all, func(v entrystore.View) float64 { return float64(v.LastAccessedAtMS) }))
	return w*relRank + (1-w)*lruRank
}

func extract(all []entrystore.View, f func(entrystore.View) float64) []float64 {
	out := make([]float64, len(all))
	for i, v := range all {
		out[i] = f(v)
	}
	return out
}

// normalizedRank maps value's position among values to [0,1] by simple
// min-max scaling; a degenerate (all-equal) set maps everything to 0.
func normalizedRank(value float64, values []float64) float64 {
	min, max := value, value
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return 0
	}
	return (value - min) / (max - min)
}

// applyPreservationRules filters candidates in the spec-mandated order:
// system_prompt type, preserve_patterns, preserve_recent_count, then
// min_relevance (skipped entirely at emergency level).
func applyPreservationRules(candidates []entrystore.View, cfg config.Config, level Level) []entrystore.View {
	out := filterOut(candidates, func(e entrystore.View) bool { return e.Type == entrytype.SystemPrompt })

	out = filterOut(out, func(e entrystore.View) bool {
		return matchesAnyPattern(e.Metadata.FilePath, cfg.PreservePatterns) || matchesAnyPattern(e.Metadata.Source, cfg.PreservePatterns)
	})

	if cfg.PreserveRecentCount > 0 && len(out) > 0 {
		recentIDs := mostRecentIDs(out, cfg.PreserveRecentCount)
		out = filterOut(out, func(e entrystore.View) bool { return recentIDs[e.ID] })
	}

	if level != LevelEmergency {
		out = filterOut(out, func(e entrystore.View) bool { return e.Relevance >= cfg.MinRelevance })
	}

	return out
}

func matchesAnyPattern(value string, patterns []string) bool {
	if value == "" {
		return false
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(value, p) {
			return true
		}
		if ok, _ := filepath.Match(p, value); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(value)); ok {
			return true
		}
	}
	return false
}

func mostRecentIDs(entries []entrystore.View, n int) map[string]bool {
	sorted := make([]entrystore.View, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAtMS > sorted[j].CreatedAtMS })
	if n > len(sorted) {
		n = len(sorted)
	}
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		ids[sorted[i].ID] = true
	}
	return ids
}

func filterOut(entries []entrystore.View, drop func(entrystore.View) bool) []entrystore.View {
	out := entries[:0:0]
	for _, e := range entries {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}
