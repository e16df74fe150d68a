package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
)

func TestCollectorCountersAccumulate(t *testing.T) {
	c := New()
	c.RecordAdd()
	c.RecordAdd()
	c.RecordAccess()
	c.RecordPrune("soft")
	c.RecordPrune("soft")
	c.RecordPrune("hard")
	c.RecordCompactionPrevented()

	s := c.Snapshot()
	assert.EqualValues(t, 2, s.Adds)
	assert.EqualValues(t, 1, s.Accesses)
	assert.EqualValues(t, 2, s.PrunesByLevel["soft"])
	assert.EqualValues(t, 1, s.PrunesByLevel["hard"])
	assert.EqualValues(t, 1, s.CompactionsPrevented)
}

func TestCollectorGauges(t *testing.T) {
	c := New()
	c.SetUtilizationGauge(0.42)
	c.SetEntriesGauge(7)
	c.SetTokensGauge(1000)

	s := c.Snapshot()
	assert.InDelta(t, 0.42, s.Utilization, 1e-9)
	assert.EqualValues(t, 7, s.EntriesTotal)
	assert.EqualValues(t, 1000, s.TokensTotal)
}

func TestCollectorResetZeroesEverything(t *testing.T) {
	c := New()
	c.RecordAdd()
	c.RecordPrune("soft")
	c.Reset()
	s := c.Snapshot()
	assert.EqualValues(t, 0, s.Adds)
	assert.Empty(t, s.PrunesByLevel)
}

func TestBlobEncodeDecodeRoundTrips(t *testing.T) {
	entries := []entrystore.View{
		{Entry: entrystore.Entry{ID: "e1", Content: "hello", Type: entrytype.Other, Tier: entrytype.Hot, Tokens: 5}},
	}
	c := New()
	c.RecordAdd()
	blob := NewBlob("fingerprint-1", entries, c.Snapshot())

	data, err := Encode(blob)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, blob.ConfigFingerprint, decoded.ConfigFingerprint)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, "e1", decoded.Entries[0].ID)
}

func TestDecodeRejectsMismatchedMajorVersion(t *testing.T) {
	data := []byte(`{"engine_version":"99.0","entries":[]}`)
	_, err := Decode(data)
	assert.Error(t, err)
}

func TestPatchCountersUpdatesInPlaceWithoutTouchingEntries(t *testing.T) {
	entries := []entrystore.View{{Entry: entrystore.Entry{ID: "e1", Tier: entrytype.Hot}}}
	c := New()
	blob := NewBlob("fp", entries, c.Snapshot())
	data, err := Encode(blob)
	require.NoError(t, err)

	c.RecordAdd()
	patched, err := PatchCounters(data, c.Snapshot())
	require.NoError(t, err)

	decoded, err := Decode(patched)
	require.NoError(t, err)
	assert.EqualValues(t, 1, decoded.Counters.Adds)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, "e1", decoded.Entries[0].ID)
}

func TestTryPatchCountersSucceedsWhenEntryCountMatches(t *testing.T) {
	entries := []entrystore.View{{Entry: entrystore.Entry{ID: "e1", Tier: entrytype.Hot}}}
	c := New()
	blob := NewBlob("fp", entries, c.Snapshot())
	data, err := Encode(blob)
	require.NoError(t, err)

	c.RecordAdd()
	patched, ok := TryPatchCounters(data, len(entries), c.Snapshot())
	require.True(t, ok)

	decoded, err := Decode(patched)
	require.NoError(t, err)
	assert.EqualValues(t, 1, decoded.Counters.Adds)
	require.Len(t, decoded.Entries, 1)
}

func TestTryPatchCountersFallsBackWhenEntryCountDrifted(t *testing.T) {
	entries := []entrystore.View{{Entry: entrystore.Entry{ID: "e1", Tier: entrytype.Hot}}}
	c := New()
	blob := NewBlob("fp", entries, c.Snapshot())
	data, err := Encode(blob)
	require.NoError(t, err)

	_, ok := TryPatchCounters(data, len(entries)+1, c.Snapshot())
	assert.False(t, ok)
}

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "snap-1", []byte(`{"a":1}`)))

	out, err := store.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
}

func TestMemoryStoreLoadUnknownNameErrors(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "missing")
	assert.Error(t, err)
}
