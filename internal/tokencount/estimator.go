// Package tokencount provides the cache engine's single Token Estimator.
//
// DESIGN: the engine binds exactly one Estimator at construction and uses it
// at every call site that needs a token count. Mixing a byte-heuristic in
// some places and a real tokenizer in others produces inconsistent
// utilization numbers, so the choice is made once in config and threaded
// through via this interface.
package tokencount

import "github.com/icco/context-optimizer/internal/entrytype"

// Estimator maps content to an integer token count. Implementations must be
// deterministic for identical inputs.
type Estimator interface {
	Estimate(content string, kind entrytype.Type) int
}

// charsPerToken gives a rough characters-per-token ratio per entry type,
// used by the default heuristic estimator.
var charsPerToken = map[entrytype.Type]float64{
	entrytype.SystemPrompt:      4.0,
	entrytype.FileRead:          3.5,
	entrytype.FileWrite:         3.5,
	entrytype.ToolResult:        3.0,
	entrytype.BashOutput:        3.0,
	entrytype.UserMessage:       4.0,
	entrytype.AssistantMessage:  4.0,
	entrytype.Other:             4.0,
}

// CharsPerToken exposes the same ratio table the heuristic estimator uses,
// for callers (the compressor) that need to translate a token budget back
// into an approximate character budget.
func CharsPerToken(kind entrytype.Type) float64 {
	if ratio, ok := charsPerToken[kind]; ok {
		return ratio
	}
	return charsPerToken[entrytype.Other]
}

// HeuristicEstimator is the default Estimator: a deterministic
// chars-per-token table keyed by entry type.
type HeuristicEstimator struct{}

// NewHeuristicEstimator returns the default estimator.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{}
}

// Estimate implements Estimator.
func (h *HeuristicEstimator) Estimate(content string, kind entrytype.Type) int {
	if content == "" {
		return 0
	}
	ratio, ok := charsPerToken[kind]
	if !ok {
		ratio = charsPerToken[entrytype.Other]
	}
	tokens := float64(len(content)) / ratio
	n := int(tokens)
	if tokens-float64(n) > 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
