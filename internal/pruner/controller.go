package pruner

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/scorer"
	"github.com/icco/context-optimizer/internal/tiering"
	"github.com/icco/context-optimizer/internal/tokencount"
)

// Controller is the Pruning Controller: decide() computes a PruningDecision
// from current store state, execute() carries it out. Hysteresis state
// lives on the Controller because it spans decisions.
type Controller struct {
	cfg        config.Config
	tiering    *tiering.Engine
	estimator  tokencount.Estimator
	similarity scorer.Similarity
	advisor    Advisor
	adaptive   *AdaptiveState
	hyst       hysteresis
}

// New builds a Controller. advisor and similarity may be nil.
func New(cfg config.Config, tieringEngine *tiering.Engine, estimator tokencount.Estimator, similarity scorer.Similarity, advisor Advisor) *Controller {
	return &Controller{
		cfg: cfg, tiering: tieringEngine, estimator: estimator,
		similarity: similarity, advisor: advisor, adaptive: &AdaptiveState{},
	}
}

// Adaptive exposes the moving-average state so the facade can feed it
// hit/miss and compaction-prevention observations.
func (c *Controller) Adaptive() *AdaptiveState { return c.adaptive }

// Decide computes a PruningDecision from current store state. It never
// mutates the store.
func (c *Controller) Decide(store *entrystore.Store, ctx scorer.Context, nowMS int64) PruningDecision {
	u := Utilization(store.TotalEffectiveTokens(), c.cfg.ContextWindowSize)
	raw := levelFor(u, c.cfg)
	level := c.hyst.apply(raw, u)

	if level == LevelNone {
		return PruningDecision{Level: LevelNone, Rationale: RationaleBelowSoft}
	}
	return c.decideAtLevel(level, store, ctx)
}

// ForceLevel builds a PruningDecision at exactly the given level,
// bypassing the threshold state machine and its hysteresis — the
// on_pre_compact path: the host is already about to compact, so the
// engine forces at least emergency regardless of measured utilization.
func (c *Controller) ForceLevel(level Level, store *entrystore.Store, ctx scorer.Context, nowMS int64) PruningDecision {
	return c.decideAtLevel(level, store, ctx)
}

func (c *Controller) decideAtLevel(level Level, store *entrystore.Store, ctx scorer.Context) PruningDecision {
	candidates := store.IterForSession(ctx.SessionID)
	ordered := orderCandidates(c.cfg.Strategy, candidates, ctx, c.similarity, c.adaptive)

	if c.advisor != nil {
		ids := idsOf(ordered)
		if advised := c.advisor.AdvisePrune(ids, ctx); advised != nil {
			ordered = reorder(ordered, advised)
		}
	}

	filtered := applyPreservationRules(ordered, c.cfg, level)

	var predicted int64
	for _, e := range filtered {
		predicted += int64(e.EffectiveTokens())
	}

	rationale := RationaleEvicted
	if level == LevelSoft {
		rationale = RationaleCompressed
	}
	if len(filtered) == 0 {
		rationale = RationalePressureUnrelieved
	}

	return PruningDecision{
		Level:                level,
		Targets:              idsOf(filtered),
		PredictedTokensFreed: predicted,
		Rationale:            rationale,
		DecisionID:           uuid.New().String(),
	}
}

// Execute carries out decision against store, evicting/compressing/
// archiving until the level's target utilization is reached or the
// candidate list is exhausted. Best-effort: if nothing can be freed, the
// result reports PressureUnrelieved rather than an error.
func (c *Controller) Execute(decision PruningDecision, store *entrystore.Store, nowMS int64) PruneResult {
	started := time.Now()
	startU := Utilization(store.TotalEffectiveTokens(), c.cfg.ContextWindowSize)

	result := PruneResult{Level: decision.Level, FinalUtilization: startU, DecisionID: decision.DecisionID}
	if decision.Level == LevelNone {
		result.DurationMS = time.Since(started).Milliseconds()
		return result
	}

	target := c.targetFor(decision.Level)

	if decision.Level == LevelSoft {
		c.compressPass(decision.Targets, store, nowMS, &result)
	}

	c.evictPass(decision.Targets, store, target, &result)

	if decision.Level == LevelEmergency {
		c.archivePass(store, nowMS, &result)
	}

	final := Utilization(store.TotalEffectiveTokens(), c.cfg.ContextWindowSize)
	result.FinalUtilization = final
	result.PressureUnrelieved = result.EntriesRemoved == 0 && result.EntriesCompressed == 0
	result.DurationMS = time.Since(started).Milliseconds()

	c.hyst.record(decision.Level, startU)

	if result.PressureUnrelieved {
		log.Warn().Str("decision_id", decision.DecisionID).Str("level", string(decision.Level)).
			Msg("pruner: pressure unrelieved, no candidate survived preservation")
	} else {
		log.Info().Str("decision_id", decision.DecisionID).Str("level", string(decision.Level)).
			Int("removed", result.EntriesRemoved).Int("compressed", result.EntriesCompressed).
			Int64("tokens_freed", result.TokensFreed).Float64("final_utilization", final).
			Msg("pruner: executed")
	}
	return result
}

func (c *Controller) targetFor(level Level) float64 {
	switch level {
	case LevelSoft:
		return c.cfg.SoftThreshold
	case LevelHard:
		return c.cfg.TargetUtilization
	case LevelEmergency:
		return c.cfg.TargetUtilization - 0.10
	default:
		return c.cfg.TargetUtilization
	}
}

func (c *Controller) currentUtilization(store *entrystore.Store) float64 {
	return Utilization(store.TotalEffectiveTokens(), c.cfg.ContextWindowSize)
}

// compressPass implements soft level's "compress demotable hot/warm
// entries" step: hot demotes one step to warm, warm demotes one step to
// cold. Entries already cold/archived are left for the eviction pass.
func (c *Controller) compressPass(targets []string, store *entrystore.Store, nowMS int64, result *PruneResult) {
	for _, id := range targets {
		if c.currentUtilization(store) < c.cfg.SoftThreshold {
			return
		}
		v, ok := store.Get(id)
		if !ok {
			continue
		}
		var nextTier entrytype.Tier
		var ratio float64
		switch v.Tier {
		case entrytype.Hot:
			nextTier, ratio = entrytype.Warm, c.cfg.Tiers.Warm.CompressionRatio
		case entrytype.Warm:
			nextTier, ratio = entrytype.Cold, c.cfg.Tiers.Cold.CompressionRatio
		default:
			continue
		}
		if ratio >= 1.0 {
			continue
		}
		before := v.EffectiveTokens()
		compressed, ok := tiering.Compress(c.cfg.CompressionStrategy, v.Content, v.Type, before, ratio, c.estimator, nowMS)
		if !ok {
			continue
		}
		if err := store.MutateTier(id, nextTier, compressed); err != nil {
			continue
		}
		result.TokensFreed += int64(before - compressed.CompressedTokens)
		result.EntriesCompressed++
	}
}

// evictPass removes candidates, in order, until utilization drops below
// target or the list is exhausted.
func (c *Controller) evictPass(targets []string, store *entrystore.Store, target float64, result *PruneResult) {
	for _, id := range targets {
		if c.currentUtilization(store) < target {
			return
		}
		v, ok := store.Get(id)
		if !ok {
			continue
		}
		store.Remove(id)
		result.EntriesRemoved++
		result.TokensFreed += int64(v.EffectiveTokens())
	}
}

// archivePass moves surviving, non-preserved cold-tier entries to archived
// under emergency pressure, per §4.E.
func (c *Controller) archivePass(store *entrystore.Store, nowMS int64, result *PruneResult) {
	cold := store.ByTier(entrytype.Cold)
	archivable := applyPreservationRules(cold, c.cfg, LevelEmergency)
	for _, v := range archivable {
		before := v.EffectiveTokens()
		compressed, ok := tiering.Compress(c.cfg.CompressionStrategy, v.Content, v.Type, before, config.ArchivedCompressionRatio, c.estimator, nowMS)
		if !ok {
			// Even a trivial surrogate should shrink a nonzero entry; if it
			// somehow can't, the entry stays cold and uncompressed.
			continue
		}
		if err := store.MutateTier(v.ID, entrytype.Archived, compressed); err != nil {
			continue
		}
		result.TokensFreed += int64(before - compressed.CompressedTokens)
	}
}

func idsOf(entries []entrystore.View) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// reorder applies an advisor's id ordering, appending any entries it
// omitted (an advisor opinion may be partial) at the end in their prior
// order.
func reorder(entries []entrystore.View, ids []string) []entrystore.View {
	byID := make(map[string]entrystore.View, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	seen := make(map[string]bool, len(ids))
	out := make([]entrystore.View, 0, len(entries))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
			seen[id] = true
		}
	}
	for _, e := range entries {
		if !seen[e.ID] {
			out = append(out, e)
		}
	}
	return out
}
