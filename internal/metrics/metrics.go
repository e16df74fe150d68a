// Package metrics implements the Metrics & Snapshot component: atomic
// counters and histograms in the teacher's MetricsCollector style, plus a
// SnapshotStore abstraction for save_snapshot/restore.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector accumulates the counters, gauges, and latency histograms §4.F
// names. All counters are lock-free; the histograms use a small mutex-
// guarded slice since they need percentile queries, not just a running sum.
type Collector struct {
	adds                  atomic.Int64
	accesses              atomic.Int64
	prunesByLevel         sync.Map // string(level) -> *atomic.Int64
	compactionsPrevented  atomic.Int64

	utilization  atomic.Uint64 // math.Float64bits
	entriesTotal atomic.Int64
	tokensTotal  atomic.Int64

	scoringLatencyMS sync.Mutex
	scoringSamples   []float64
	pruningLatencyMS sync.Mutex
	pruningSamples   []float64
}

// New returns an empty Collector.
func New() *Collector { return &Collector{} }

// RecordAdd increments the adds counter.
func (c *Collector) RecordAdd() { c.adds.Add(1) }

// RecordAccess increments the accesses counter.
func (c *Collector) RecordAccess() { c.accesses.Add(1) }

// RecordPrune increments the per-level prune counter.
func (c *Collector) RecordPrune(level string) {
	v, _ := c.prunesByLevel.LoadOrStore(level, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// RecordCompactionPrevented increments the compactions_prevented counter.
func (c *Collector) RecordCompactionPrevented() { c.compactionsPrevented.Add(1) }

// SetUtilizationGauge records the current utilization gauge value.
func (c *Collector) SetUtilizationGauge(u float64) { c.utilization.Store(floatBits(u)) }

// SetEntriesGauge records the current entry count gauge.
func (c *Collector) SetEntriesGauge(n int) { c.entriesTotal.Store(int64(n)) }

// SetTokensGauge records the current total-tokens gauge.
func (c *Collector) SetTokensGauge(n int64) { c.tokensTotal.Store(n) }

// RecordScoringLatency appends one scoring_latency_ms sample.
func (c *Collector) RecordScoringLatency(ms float64) {
	c.scoringLatencyMS.Lock()
	defer c.scoringLatencyMS.Unlock()
	c.scoringSamples = append(c.scoringSamples, ms)
}

// RecordPruningLatency appends one pruning_latency_ms sample.
func (c *Collector) RecordPruningLatency(ms float64) {
	c.pruningLatencyMS.Lock()
	defer c.pruningLatencyMS.Unlock()
	c.pruningSamples = append(c.pruningSamples, ms)
}

// Stats is the flat snapshot of every counter and gauge, in the teacher's
// map[string]int64-adjacent style but typed for the richer field set.
type Stats struct {
	Adds                 int64
	Accesses             int64
	PrunesByLevel        map[string]int64
	CompactionsPrevented int64
	Utilization          float64
	EntriesTotal         int64
	TokensTotal          int64
	ScoringLatencyP50MS  float64
	ScoringLatencyP99MS  float64
	PruningLatencyP50MS  float64
	PruningLatencyP99MS  float64
}

// Snapshot returns a point-in-time copy of every metric.
func (c *Collector) Snapshot() Stats {
	byLevel := make(map[string]int64)
	c.prunesByLevel.Range(func(k, v interface{}) bool {
		byLevel[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})

	c.scoringLatencyMS.Lock()
	scoringP50, scoringP99 := percentiles(c.scoringSamples)
	c.scoringLatencyMS.Unlock()

	c.pruningLatencyMS.Lock()
	pruningP50, pruningP99 := percentiles(c.pruningSamples)
	c.pruningLatencyMS.Unlock()

	return Stats{
		Adds:                 c.adds.Load(),
		Accesses:             c.accesses.Load(),
		PrunesByLevel:        byLevel,
		CompactionsPrevented: c.compactionsPrevented.Load(),
		Utilization:          floatFromBits(c.utilization.Load()),
		EntriesTotal:         c.entriesTotal.Load(),
		TokensTotal:          c.tokensTotal.Load(),
		ScoringLatencyP50MS:  scoringP50,
		ScoringLatencyP99MS:  scoringP99,
		PruningLatencyP50MS:  pruningP50,
		PruningLatencyP99MS:  pruningP99,
	}
}

// RestoreFrom overwrites the counters (not the latency histograms, which
// are not persisted) with a previously snapshotted Stats, for restore()
// after a save_snapshot/restore round trip.
func (c *Collector) RestoreFrom(stats Stats) {
	c.adds.Store(stats.Adds)
	c.accesses.Store(stats.Accesses)
	for level, n := range stats.PrunesByLevel {
		v, _ := c.prunesByLevel.LoadOrStore(level, new(atomic.Int64))
		v.(*atomic.Int64).Store(n)
	}
	c.compactionsPrevented.Store(stats.CompactionsPrevented)
}

// Reset zeroes every counter, gauge, and histogram sample.
func (c *Collector) Reset() {
	c.adds.Store(0)
	c.accesses.Store(0)
	c.prunesByLevel.Range(func(k, _ interface{}) bool {
		c.prunesByLevel.Delete(k)
		return true
	})
	c.compactionsPrevented.Store(0)
	c.utilization.Store(0)
	c.entriesTotal.Store(0)
	c.tokensTotal.Store(0)
	c.scoringLatencyMS.Lock()
	c.scoringSamples = nil
	c.scoringLatencyMS.Unlock()
	c.pruningLatencyMS.Lock()
	c.pruningSamples = nil
	c.pruningLatencyMS.Unlock()
}
