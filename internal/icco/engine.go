// Package icco implements the Hook Facade (§4.G): the single public entry
// point that wires the token estimator, entry store, tiering engine,
// relevance scorer, pruning controller, metrics collector, and optional
// advisor into one synchronous handle. No other package is meant to be
// imported directly by a host integration — everything reachable from the
// outside world goes through Engine.
package icco

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/icco/context-optimizer/internal/advisor"
	"github.com/icco/context-optimizer/internal/clock"
	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/metrics"
	"github.com/icco/context-optimizer/internal/pruner"
	"github.com/icco/context-optimizer/internal/scorer"
	"github.com/icco/context-optimizer/internal/tiering"
	"github.com/icco/context-optimizer/internal/tokencount"
)

// Engine is the cache's public handle. All operations are synchronous: any
// internal deferred work (compression, a worker-pool batch) is complete
// before the call returns. A single handle is not safe for concurrent use
// from multiple goroutines — the concurrency model serializes operations
// on one handle in call order, matching the facade contract.
type Engine struct {
	mu sync.Mutex

	cfg       config.Config
	store     *entrystore.Store
	estimator tokencount.Estimator
	tiering   *tiering.Engine
	scorer    *scorer.Scorer
	pruner    *pruner.Controller
	metrics   *metrics.Collector
	advisor   advisor.Advisor
	clock     clock.Clock
	events    *EventLog
	snapshots metrics.SnapshotStore

	configFingerprint string
}

// settings accumulates Option overrides before any dependent component
// (scorer, pruner) is built, so construction order never matters to the
// caller regardless of which options they pass or in what order.
type settings struct {
	advisor    advisor.Advisor
	similarity scorer.Similarity
	clock      clock.Clock
	events     *EventLog
	snapshots  metrics.SnapshotStore
	poolSize   int
}

// Option customizes an Engine at construction. Every dependency has a
// working zero-dependency default; options exist only to override that
// default with something wired to infrastructure (a persistent
// SnapshotStore, a learned Advisor, an event log, a fixed clock for tests).
type Option func(*settings)

// WithAdvisor binds an optional Advisor Plugin (§4.H). The zero value is
// advisor.NoOp, under which the engine is fully deterministic.
func WithAdvisor(a advisor.Advisor) Option {
	return func(s *settings) { s.advisor = a }
}

// WithSimilarity binds the optional external text-similarity function
// §6 describes. A nil similarity makes query_similarity contribute 0 to
// every score, without the engine losing determinism.
func WithSimilarity(sim scorer.Similarity) Option {
	return func(s *settings) { s.similarity = sim }
}

// WithClock overrides the default wall clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithEventLog binds a JSONL structured event sink. The zero value
// discards events.
func WithEventLog(l *EventLog) Option {
	return func(s *settings) { s.events = l }
}

// WithSnapshotStore overrides the default in-memory SnapshotStore with a
// durable one (e.g. metrics.NewSQLiteStore).
func WithSnapshotStore(store metrics.SnapshotStore) Option {
	return func(s *settings) { s.snapshots = store }
}

// WithWorkerPool enables internal parallelism for transition_tiers'
// compression batch. Without this option, transitions compress inline.
func WithWorkerPool(size int) Option {
	return func(s *settings) { s.poolSize = size }
}

// New validates cfg, merges it with documented defaults, and constructs a
// ready-to-use Engine. Construction is the only place an InvalidConfig
// error surfaces; everything downstream recovers or downgrades to a
// counter, per §7's propagation policy.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	cfg = config.MergeWithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("icco: invalid config: %w", err)
	}

	s := settings{advisor: advisor.NoOp{}, clock: clock.System{}, snapshots: metrics.NewMemoryStore()}
	for _, opt := range opts {
		opt(&s)
	}

	var estimator tokencount.Estimator
	switch cfg.TokenEstimator {
	case config.TokenEstimatorTiktoken:
		estimator = tokencount.NewTiktokenEstimator(cfg.TiktokenEncoding)
	default:
		estimator = tokencount.NewHeuristicEstimator()
	}

	var pool *tiering.Pool
	if s.poolSize > 1 {
		pool = tiering.NewPool(s.poolSize)
	}

	store := entrystore.New(cfg.SessionIsolation)
	tieringEngine := tiering.New(cfg.Tiers, cfg.CompressionStrategy, cfg.PromoteOnAccess, estimator, pool)
	sc := scorer.New(cfg.ScoringWeights, cfg.Tiers, cfg.DecayRate, s.similarity)
	pc := pruner.New(cfg, tieringEngine, estimator, s.similarity, s.advisor)

	return &Engine{
		cfg:               cfg,
		store:             store,
		estimator:         estimator,
		tiering:           tieringEngine,
		scorer:            sc,
		pruner:            pc,
		metrics:           metrics.New(),
		advisor:           s.advisor,
		clock:             s.clock,
		events:            s.events,
		snapshots:         s.snapshots,
		configFingerprint: fingerprint(cfg),
	}, nil
}

func fingerprint(cfg config.Config) string {
	return fmt.Sprintf("%d|%.2f|%s|%s", cfg.ContextWindowSize, cfg.TargetUtilization, cfg.Strategy, cfg.CompressionStrategy)
}

// Add implements add(content, type, metadata) -> id. The entry starts in
// the hot tier with relevance defaulted to 0.5, per §3.
func (e *Engine) Add(content string, kind entrytype.Type, meta entrystore.Metadata) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMS()
	tokens := e.estimator.Estimate(content, kind)
	entry := &entrystore.Entry{
		Content:          content,
		Type:             kind,
		Tokens:           tokens,
		Tier:             entrytype.Hot,
		CreatedAtMS:      now,
		LastAccessedAtMS: now,
		Relevance:        0.5,
		Metadata:         meta,
	}
	id := e.store.Insert(entry)

	e.metrics.RecordAdd()
	e.refreshGauges()
	e.events.Log(EventEntryAdded, meta.SessionID, map[string]interface{}{
		"id": id, "type": string(kind), "tokens": tokens,
	})
	return id
}

// Access implements access(id): bumps access_count/last_accessed_at. An
// unknown id is NotFound, not an error — the facade swallows it and
// accounts for it via the accesses counter regardless.
func (e *Engine) Access(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMS()
	if err := e.store.Access(id, now); err != nil {
		log.Debug().Str("id", id).Msg("icco: access on unknown entry")
		e.metrics.RecordAccess()
		return
	}
	e.metrics.RecordAccess()
}

// ScoreAll implements score_all(context) -> ranked_list. Per entry, the
// deterministic Scorer computes a baseline and the optional Advisor may
// override it outright (ok=true); entries the advisor abstains on keep the
// deterministic score.
func (e *Engine) ScoreAll(ctx scorer.Context) []scorer.Ranked {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreAllLocked(ctx)
}

func (e *Engine) scoreAllLocked(ctx scorer.Context) []scorer.Ranked {
	started := time.Now()

	entries := e.store.IterForSession(ctx.SessionID)
	nowMS := ctx.TimestampMS
	if nowMS == 0 {
		nowMS = e.clock.NowMS()
	}

	out := make([]scorer.Ranked, 0, len(entries))
	for _, entry := range entries {
		score := e.scorer.Score(entry, ctx, nowMS)
		if e.advisor != nil {
			if advised, ok := e.advisor.AdviseScore(entry, ctx); ok {
				score = advised
			}
		}
		_ = e.store.SetRelevance(entry.ID, score)
		out = append(out, scorer.Ranked{ID: entry.ID, Score: score})
	}
	sortRankedDescending(out)

	e.metrics.RecordScoringLatency(float64(time.Since(started).Microseconds()) / 1000.0)
	return out
}

func sortRankedDescending(ranked []scorer.Ranked) {
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
}

// OnUserPromptSubmit implements on_user_prompt_submit(query, session_id) ->
// PruneResult: builds a ScoringContext, scores every candidate, decides,
// and executes — a single round trip through (D) and (E).
func (e *Engine) OnUserPromptSubmit(query, sessionID string) pruner.PruneResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMS()
	ctx := scorer.Context{CurrentQuery: query, SessionID: sessionID, TimestampMS: now}
	e.scoreAllLocked(ctx)

	decision := e.pruner.Decide(e.store, ctx, now)
	result := e.pruner.Execute(decision, e.store, now)
	e.metrics.RecordPruningLatency(float64(result.DurationMS))
	e.refreshGauges()
	e.metrics.RecordPrune(string(result.Level))
	if result.PressureUnrelieved {
		e.events.Log(EventPressureUnrelieved, sessionID, map[string]interface{}{
			"decision_id": result.DecisionID, "level": string(result.Level),
		})
	} else if result.Level != pruner.LevelNone {
		e.events.Log(EventPruneExecuted, sessionID, map[string]interface{}{
			"decision_id": result.DecisionID, "level": string(result.Level), "entries_removed": result.EntriesRemoved,
			"entries_compressed": result.EntriesCompressed, "tokens_freed": result.TokensFreed,
		})
	}
	return result
}

// OnPostToolUse implements on_post_tool_use(tool_name, tool_input,
// session_id) -> id: inserts a tool_result entry, and if utilization is
// already at or above soft, runs one lightweight prune pass inline so a
// single burst of tool output cannot push the window over hard before the
// next prompt.
func (e *Engine) OnPostToolUse(toolName, toolOutput, sessionID string) string {
	meta := entrystore.Metadata{SessionID: sessionID, ToolName: toolName}
	id := e.Add(toolOutput, entrytype.ToolResult, meta)

	e.mu.Lock()
	u := pruner.Utilization(e.store.TotalEffectiveTokens(), e.cfg.ContextWindowSize)
	needsPrune := u >= e.cfg.SoftThreshold
	e.mu.Unlock()

	if needsPrune {
		e.OnUserPromptSubmit("", sessionID)
	}
	return id
}

// OnPreCompact implements on_pre_compact(session_id) -> PruneResult: forces
// at least emergency-level pruning so the host runtime can cancel its own
// compaction in favor of this one.
func (e *Engine) OnPreCompact(sessionID string) pruner.PruneResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMS()
	ctx := scorer.Context{SessionID: sessionID, TimestampMS: now}
	e.scoreAllLocked(ctx)

	decision := e.pruner.ForceLevel(pruner.LevelEmergency, e.store, ctx, now)
	result := e.pruner.Execute(decision, e.store, now)
	e.metrics.RecordPruningLatency(float64(result.DurationMS))
	e.refreshGauges()
	e.metrics.RecordPrune(string(result.Level))
	if !result.PressureUnrelieved {
		e.metrics.RecordCompactionPrevented()
	}
	e.events.Log(EventPruneExecuted, sessionID, map[string]interface{}{
		"decision_id": result.DecisionID, "level": string(result.Level), "forced": true,
		"entries_removed": result.EntriesRemoved, "entries_compressed": result.EntriesCompressed,
		"tokens_freed": result.TokensFreed,
	})
	return result
}

// TransitionTiers implements transition_tiers() -> TierTransitionResult.
func (e *Engine) TransitionTiers() tiering.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMS()
	result := e.tiering.TransitionTiers(e.store, now)
	e.refreshGauges()
	if result.HotToWarm+result.WarmToCold+result.ColdToArchived+result.Promotions > 0 {
		e.events.Log(EventTierTransition, "", map[string]interface{}{
			"promotions": result.Promotions, "hot_to_warm": result.HotToWarm,
			"warm_to_cold": result.WarmToCold, "cold_to_archived": result.ColdToArchived,
			"tokens_saved": result.TokensSaved,
		})
	}
	return result
}

// GetMetrics implements get_metrics().
func (e *Engine) GetMetrics() metrics.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.Snapshot()
}

// GetUtilization implements get_utilization().
func (e *Engine) GetUtilization() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pruner.Utilization(e.store.TotalEffectiveTokens(), e.cfg.ContextWindowSize)
}

// GetEntries implements get_entries() — a read-only view, scoped by
// session_id when session isolation is enabled (an empty sessionID returns
// everything when isolation is off).
func (e *Engine) GetEntries(sessionID string) []entrystore.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.IterForSession(sessionID)
}

// Reset implements reset(): clears all entries and metrics, leaving config
// and bound dependencies untouched.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Reset()
	e.metrics.Reset()
}

// refreshGauges updates the entries/tokens/utilization gauges after any
// mutating operation, so get_metrics() never reads stale gauge values.
func (e *Engine) refreshGauges() {
	total := e.store.TotalEffectiveTokens()
	e.metrics.SetEntriesGauge(e.store.Len())
	e.metrics.SetTokensGauge(int64(total))
	e.metrics.SetUtilizationGauge(pruner.Utilization(total, e.cfg.ContextWindowSize))
}

// SaveSnapshot persists the current entries and metrics under name. The
// entries and metrics are read together under the engine lock, so the
// persisted blob reflects one consistent point in time — the facade's
// all-or-nothing guarantee for snapshotting; the lock is released before
// the blob is written to the SnapshotStore. If a blob already exists under
// name and its entry count hasn't drifted since that save, only the
// counters are rewritten in place (metrics.TryPatchCounters) instead of
// re-encoding the whole entry list.
func (e *Engine) SaveSnapshot(ctx context.Context, name string) error {
	e.mu.Lock()
	entries := e.store.Iter()
	stats := e.metrics.Snapshot()
	fp := e.configFingerprint
	e.mu.Unlock()

	if existing, err := e.snapshots.Load(ctx, name); err == nil {
		if patched, ok := metrics.TryPatchCounters(existing, len(entries), stats); ok {
			return e.snapshots.Save(ctx, name, patched)
		}
	}

	blob := metrics.NewBlob(fp, entries, stats)
	data, err := metrics.Encode(blob)
	if err != nil {
		return fmt.Errorf("icco: encoding snapshot: %w", err)
	}
	return e.snapshots.Save(ctx, name, data)
}

// RestoreSnapshot implements restore(): on a SnapshotVersionMismatch or any
// other load failure, the engine remains in its prior state, per §7.
func (e *Engine) RestoreSnapshot(ctx context.Context, name string) error {
	data, err := e.snapshots.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("icco: loading snapshot %q: %w", name, err)
	}
	blob, err := metrics.Decode(data)
	if err != nil {
		return fmt.Errorf("icco: restore refused, engine unchanged: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Reset()
	for _, snap := range blob.Entries {
		entry := &entrystore.Entry{
			ID:               snap.ID,
			Content:          snap.ContentOrRef,
			Type:             entrytype.Type(snap.Type),
			Tokens:           snap.Tokens,
			Tier:             entrytype.Tier(snap.Tier),
			CreatedAtMS:      snap.CreatedAtMS,
			LastAccessedAtMS: snap.LastAccessedAtMS,
			AccessCount:      snap.AccessCount,
			Relevance:        snap.Relevance,
			Metadata:         snap.Metadata,
			Compressed:       snap.Compressed,
		}
		e.store.Insert(entry)
	}
	e.metrics.Reset()
	e.metrics.RestoreFrom(blob.Counters)
	e.refreshGauges()
	e.events.Log(EventSnapshotRestored, "", map[string]interface{}{"name": name, "entries": len(blob.Entries)})
	return nil
}
