package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/icco/context-optimizer/internal/entrytype"
)

// TiktokenEstimator wraps a real BPE tokenizer for implementers who need
// tighter agreement with a specific model's token accounting. It is
// selected via config.TokenEstimator = "tiktoken" instead of the default
// heuristic — exactly one estimator is ever bound per engine (see the
// package doc).
type TiktokenEstimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
	fallback Estimator
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base"). If the
// encoding can't be loaded — no network access, unknown name — it logs a
// warning and falls back to the heuristic estimator for every call, so a
// misconfigured engine still produces usable (if less precise) numbers.
func NewTiktokenEstimator(encodingName string) *TiktokenEstimator {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encodingName).Msg("tokencount: tiktoken encoding unavailable, falling back to heuristic")
		return &TiktokenEstimator{fallback: NewHeuristicEstimator()}
	}
	return &TiktokenEstimator{encoding: enc}
}

// Estimate implements Estimator.
func (t *TiktokenEstimator) Estimate(content string, kind entrytype.Type) int {
	if t.encoding == nil {
		return t.fallback.Estimate(content, kind)
	}
	if content == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := t.encoding.Encode(content, nil, nil)
	if len(tokens) == 0 {
		return 1
	}
	return len(tokens)
}
