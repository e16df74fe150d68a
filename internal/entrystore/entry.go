// Package entrystore owns the cache's Entry collection: the single mutable
// shared state of the engine (see the concurrency model). No other package
// holds a long-lived handle to an Entry; everything else borrows read-only
// views for the duration of one call.
package entrystore

import (
	"github.com/icco/context-optimizer/internal/entrytype"
)

// CompressionMethod identifies how an entry's content was reduced.
type CompressionMethod string

const (
	MethodSummary   CompressionMethod = "summary"
	MethodEmbedding CompressionMethod = "embedding"
	MethodHybrid    CompressionMethod = "hybrid"
)

// Compressed describes the lossy surrogate that replaced an entry's content
// on demotion out of the hot tier.
type Compressed struct {
	Method           CompressionMethod
	Summary          string
	CompressedTokens int
	Ratio            float64
	OriginalTokens   int
	CompressedAtMS   int64
}

// Metadata carries the provenance fields used by scoring and preservation.
type Metadata struct {
	Source    string
	FilePath  string
	SessionID string
	ToolName  string
	Tags      map[string]struct{}
}

// HasTag reports whether tag is present.
func (m Metadata) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// Entry is the unit of caching. Entries are created by Store.Insert,
// mutated only by the tiering/compressor package (Tier, Compressed) and by
// Store.Access (LastAccessedAtMS, AccessCount), and destroyed by the
// pruning controller or Store.Reset.
type Entry struct {
	ID               string
	Content          string
	Type             entrytype.Type
	Tokens           int
	Tier             entrytype.Tier
	CreatedAtMS      int64
	LastAccessedAtMS int64
	AccessCount      int
	Relevance        float64
	Metadata         Metadata
	Compressed       *Compressed
}

// EffectiveTokens is what counts toward context-window utilization:
// the compressed size if the entry has been compressed, else the original.
func (e *Entry) EffectiveTokens() int {
	if e.Compressed != nil {
		return e.Compressed.CompressedTokens
	}
	return e.Tokens
}

// View is a read-only copy of an Entry handed to borrowers (scorer, pruner,
// facade) so they can never mutate store state directly.
type View struct {
	Entry
}

func view(e *Entry) View {
	cp := *e
	if e.Compressed != nil {
		c := *e.Compressed
		cp.Compressed = &c
	}
	if e.Metadata.Tags != nil {
		tags := make(map[string]struct{}, len(e.Metadata.Tags))
		for k := range e.Metadata.Tags {
			tags[k] = struct{}{}
		}
		cp.Metadata.Tags = tags
	}
	return View{Entry: cp}
}
