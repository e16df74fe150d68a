// Package tiering implements the Temporal Tiering & Compressor: age-based
// tier assignment, the batch transition pass, and the tagged-variant
// compressors dispatched by compressor.go.
package tiering

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/tokencount"
)

// Result tallies one TransitionTiers pass. ColdToArchived stays at 0 here —
// archival only happens under pruning pressure (E), never by age alone —
// but the field exists so the facade can fold pruner archival counts into
// the same shape when it reports a combined summary.
type Result struct {
	Promotions     int
	HotToWarm      int
	WarmToCold     int
	ColdToArchived int
	TokensSaved    int64
}

// TargetTier computes where an entry belongs given now, per §4.C's
// ordered rule list. A non-monotonic clock (now <= a stored timestamp)
// is treated as age 0, so tiering never demotes on a clock rollback.
func TargetTier(tiers config.TiersConfig, promoteOnAccess bool, now, createdAtMS, lastAccessedAtMS int64) entrytype.Tier {
	if promoteOnAccess {
		sinceAccess := now - lastAccessedAtMS
		if sinceAccess <= 0 || sinceAccess < tiers.Hot.MaxAgeMS {
			return entrytype.Hot
		}
	}

	age := now - createdAtMS
	if age <= 0 {
		return entrytype.Hot
	}
	if age < tiers.Hot.MaxAgeMS {
		return entrytype.Hot
	}
	if age < tiers.Warm.MaxAgeMS {
		return entrytype.Warm
	}
	return entrytype.Cold
}

// ratioFor returns the configured compression ratio for a target tier.
func ratioFor(tiers config.TiersConfig, tier entrytype.Tier) float64 {
	switch tier {
	case entrytype.Warm:
		return tiers.Warm.CompressionRatio
	case entrytype.Cold:
		return tiers.Cold.CompressionRatio
	default:
		return 1.0
	}
}

// Engine runs transition passes against one Store using one bound
// compression strategy and estimator. It optionally parallelizes
// compression across a worker pool for large batches (§5: internal
// parallelism is allowed as long as the facade stays synchronous).
type Engine struct {
	cfg       config.TiersConfig
	strategy  config.CompressionStrategy
	promote   bool
	estimator tokencount.Estimator
	pool      *Pool
}

// New builds a tiering Engine. pool may be nil, in which case transitions
// run compression inline on the calling goroutine.
func New(tiers config.TiersConfig, strategy config.CompressionStrategy, promoteOnAccess bool, estimator tokencount.Estimator, pool *Pool) *Engine {
	return &Engine{cfg: tiers, strategy: strategy, promote: promoteOnAccess, estimator: estimator, pool: pool}
}

// TransitionTiers runs one batch pass over every entry in store. It is
// cooperative and runs to completion without suspending; if an internal
// worker pool is configured, this call blocks until the pool drains, so
// the facade's synchronous contract holds regardless.
func (e *Engine) TransitionTiers(store *entrystore.Store, nowMS int64) Result {
	entries := store.Iter()

	type job struct {
		id          string
		fromTier    entrytype.Tier
		targetTier  entrytype.Tier
		content     string
		kind        entrytype.Type
		tokens      int
		isDemotion  bool
		compression float64
	}

	var jobs []job
	var result Result
	var resultMu sync.Mutex

	for _, v := range entries {
		target := TargetTier(e.cfg, e.promote, nowMS, v.CreatedAtMS, v.LastAccessedAtMS)
		if target == v.Tier {
			continue
		}
		if target == entrytype.Hot && v.Tier != entrytype.Hot {
			result.Promotions++
			if err := store.MutateTier(v.ID, entrytype.Hot, nil); err != nil {
				log.Debug().Str("id", v.ID).Err(err).Msg("tiering: promote skipped, entry gone")
			}
			continue
		}

		jobs = append(jobs, job{
			id: v.ID, fromTier: v.Tier, targetTier: target,
			content: v.Content, kind: v.Type, tokens: v.EffectiveTokens(),
			isDemotion:  true,
			compression: ratioFor(e.cfg, target),
		})
	}

	apply := func(j job) {
		var compressed *entrystore.Compressed
		if j.compression < 1.0 {
			c, ok := Compress(e.strategy, j.content, j.kind, j.tokens, j.compression, e.estimator, nowMS)
			if ok {
				compressed = c
			} else {
				log.Debug().Str("id", j.id).Msg("tiering: compression skipped, would not shrink entry")
			}
		}
		before := j.tokens
		if err := store.MutateTier(j.id, j.targetTier, compressed); err != nil {
			log.Debug().Str("id", j.id).Err(err).Msg("tiering: demote skipped, entry gone")
			return
		}
		after := before
		if compressed != nil {
			after = compressed.CompressedTokens
		}

		resultMu.Lock()
		result.TokensSaved += int64(before - after)
		switch {
		case j.fromTier == entrytype.Hot && j.targetTier == entrytype.Warm:
			result.HotToWarm++
		case j.fromTier == entrytype.Warm && j.targetTier == entrytype.Cold:
			result.WarmToCold++
		case j.targetTier == entrytype.Archived:
			result.ColdToArchived++
		}
		resultMu.Unlock()
	}

	if e.pool != nil && len(jobs) > 1 {
		e.pool.Run(len(jobs), func(i int) { apply(jobs[i]) })
	} else {
		for _, j := range jobs {
			apply(j)
		}
	}

	return result
}
