// Package advisor implements the optional Advisor Plugin Interface (§4.H):
// a pluggable source of opinions the engine consults but never depends on.
// A nil-opinion result from either method means "use the deterministic
// path" — the engine is fully functional without any Advisor bound.
package advisor

import (
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/scorer"
)

// Advisor is the full plugin surface. AdviseScore returns (score, true) to
// override the deterministic scorer for one entry, or (_, false) for "no
// opinion". AdvisePrune returns a reordering of candidates, or nil for "no
// opinion". Its internal convergence — how it arrives at an opinion — is
// not part of this contract.
type Advisor interface {
	AdviseScore(entry entrystore.View, ctx scorer.Context) (float64, bool)
	AdvisePrune(candidates []string, ctx scorer.Context) []string
}

// NoOp is the zero-dependency default: it always abstains, so binding it
// is equivalent to running with no advisor at all.
type NoOp struct{}

// AdviseScore implements Advisor.
func (NoOp) AdviseScore(entrystore.View, scorer.Context) (float64, bool) { return 0, false }

// AdvisePrune implements Advisor.
func (NoOp) AdvisePrune([]string, scorer.Context) []string { return nil }
