package tiering

import "github.com/icco/context-optimizer/internal/entrytype"

// Decay returns the additive relevance penalty (D) subtracts for an
// entry's current tier, per the fixed multiplier table: hot pays nothing,
// each colder tier pays one more multiple of decayRate.
func Decay(tier entrytype.Tier, decayRate float64) float64 {
	switch tier {
	case entrytype.Warm:
		return decayRate
	case entrytype.Cold:
		return 2 * decayRate
	case entrytype.Archived:
		return 3 * decayRate
	default:
		return 0
	}
}
