package metrics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/icco/context-optimizer/internal/entrystore"
)

// EngineVersionMajor is bumped whenever the persisted blob's shape changes
// incompatibly. Loaders reject anything with a different major, per §6.
const EngineVersionMajor = "1"
const engineVersion = EngineVersionMajor + ".0"

// EntrySnapshot mirrors one persisted entry, per §6's field list.
type EntrySnapshot struct {
	ID               string                  `json:"id"`
	Type             string                  `json:"type"`
	Tokens           int                     `json:"tokens"`
	Tier             string                  `json:"tier"`
	CreatedAtMS      int64                   `json:"created_at"`
	LastAccessedAtMS int64                   `json:"last_accessed_at"`
	AccessCount      int                     `json:"access_count"`
	Relevance        float64                 `json:"relevance"`
	Metadata         entrystore.Metadata     `json:"metadata"`
	ContentOrRef     string                  `json:"content_or_ref"`
	Compressed       *entrystore.Compressed  `json:"compressed,omitempty"`
}

// Blob is the full persisted state: engine version, config fingerprint,
// entry list, and counters.
type Blob struct {
	EngineVersion    string          `json:"engine_version"`
	ConfigFingerprint string         `json:"config_fingerprint"`
	Entries          []EntrySnapshot `json:"entries"`
	Counters         Stats           `json:"counters"`
}

// NewBlob builds a Blob from live entry views and a metrics snapshot.
func NewBlob(configFingerprint string, entries []entrystore.View, stats Stats) Blob {
	snaps := make([]EntrySnapshot, 0, len(entries))
	for _, e := range entries {
		contentOrRef := e.Content
		if e.Compressed != nil {
			contentOrRef = e.Compressed.Summary
		}
		snaps = append(snaps, EntrySnapshot{
			ID: e.ID, Type: string(e.Type), Tokens: e.Tokens, Tier: string(e.Tier),
			CreatedAtMS: e.CreatedAtMS, LastAccessedAtMS: e.LastAccessedAtMS,
			AccessCount: e.AccessCount, Relevance: e.Relevance,
			Metadata: e.Metadata, ContentOrRef: contentOrRef, Compressed: e.Compressed,
		})
	}
	return Blob{
		EngineVersion:     engineVersion,
		ConfigFingerprint: configFingerprint,
		Entries:           snaps,
		Counters:          stats,
	}
}

// Encode serializes a Blob to its on-disk/in-memory representation.
func Encode(b Blob) ([]byte, error) {
	return json.Marshal(b)
}

// PatchCounters rewrites only the counters object of an existing blob in
// place, without a full unmarshal/remarshal of the (potentially large)
// entry list — the incremental-update path §2's domain stack calls for.
func PatchCounters(existing []byte, stats Stats) ([]byte, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("metrics: marshalling counters: %w", err)
	}
	return sjson.SetRawBytes(existing, "counters", data)
}

// TryPatchCounters is SaveSnapshot's incremental path: if the previously
// saved blob still has the same entry count as the live store, nothing was
// added or evicted since that save, so only the counters need to change —
// PatchCounters rewrites them in place and the caller skips a full
// NewBlob+Encode of the entry list. ok is false (and the caller should fall
// back to a full save) whenever existing isn't a valid snapshot or its
// entry count no longer matches liveEntryCount.
func TryPatchCounters(existing []byte, liveEntryCount int, stats Stats) (data []byte, ok bool) {
	if !gjson.ValidBytes(existing) {
		return nil, false
	}
	if int(gjson.GetBytes(existing, "entries.#").Int()) != liveEntryCount {
		return nil, false
	}
	patched, err := PatchCounters(existing, stats)
	if err != nil {
		return nil, false
	}
	return patched, true
}

// Decode parses a blob and rejects it outright if the engine-version major
// doesn't match, without paying for a full unmarshal first — a tolerant,
// single-field read via gjson ahead of the real parse.
func Decode(data []byte) (Blob, error) {
	if !gjson.ValidBytes(data) {
		return Blob{}, fmt.Errorf("metrics: snapshot is not valid JSON")
	}
	version := gjson.GetBytes(data, "engine_version").String()
	major := strings.SplitN(version, ".", 2)[0]
	if major != EngineVersionMajor {
		return Blob{}, fmt.Errorf("metrics: snapshot version %q incompatible with engine major %q", version, EngineVersionMajor)
	}

	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, fmt.Errorf("metrics: unmarshalling snapshot: %w", err)
	}
	return b, nil
}
