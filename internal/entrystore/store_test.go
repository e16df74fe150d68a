package entrystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/context-optimizer/internal/entrytype"
)

func newEntry(source string, tokens int) *Entry {
	return &Entry{
		Content: "x", Type: entrytype.Other, Tokens: tokens, Tier: entrytype.Hot,
		Metadata: Metadata{Source: source},
	}
}

func TestInsertAssignsStableUniqueIDs(t *testing.T) {
	s := New(false)
	id1 := s.Insert(newEntry("a", 10))
	id2 := s.Insert(newEntry("a", 10))
	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2, "entry ids must never be reused")
}

func TestGetUnknownIDIsNotFoundNotError(t *testing.T) {
	s := New(false)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestTotalEffectiveTokensTracksInsertRemoveAndMutate(t *testing.T) {
	s := New(false)
	id1 := s.Insert(newEntry("a", 100))
	id2 := s.Insert(newEntry("b", 50))
	assert.EqualValues(t, 150, s.TotalEffectiveTokens())

	require.NoError(t, s.MutateTier(id1, entrytype.Warm, &Compressed{CompressedTokens: 20}))
	assert.EqualValues(t, 70, s.TotalEffectiveTokens())

	s.Remove(id2)
	assert.EqualValues(t, 20, s.TotalEffectiveTokens())

	s.Remove(id1)
	assert.EqualValues(t, 0, s.TotalEffectiveTokens())
}

func TestSecondaryIndicesReturnInsertionOrder(t *testing.T) {
	s := New(false)
	e1 := &Entry{Content: "1", Tier: entrytype.Hot, Metadata: Metadata{FilePath: "f.go"}}
	e2 := &Entry{Content: "2", Tier: entrytype.Hot, Metadata: Metadata{FilePath: "f.go"}}
	id1 := s.Insert(e1)
	id2 := s.Insert(e2)

	views := s.ByFilePath("f.go")
	require.Len(t, views, 2)
	assert.Equal(t, id1, views[0].ID)
	assert.Equal(t, id2, views[1].ID)
}

func TestSessionIsolationScopesReads(t *testing.T) {
	s := New(true)
	s.Insert(&Entry{Content: "a", Tier: entrytype.Hot, Metadata: Metadata{SessionID: "A"}})
	s.Insert(&Entry{Content: "b", Tier: entrytype.Hot, Metadata: Metadata{SessionID: "B"}})

	sessionA := s.IterForSession("A")
	require.Len(t, sessionA, 1)
	assert.Equal(t, "A", sessionA[0].Metadata.SessionID)

	sessionB := s.IterForSession("B")
	require.Len(t, sessionB, 1)
	assert.Equal(t, "B", sessionB[0].Metadata.SessionID)
}

func TestSessionIsolationOffSeesEverySession(t *testing.T) {
	s := New(false)
	s.Insert(&Entry{Content: "a", Tier: entrytype.Hot, Metadata: Metadata{SessionID: "A"}})
	s.Insert(&Entry{Content: "b", Tier: entrytype.Hot, Metadata: Metadata{SessionID: "B"}})

	assert.Len(t, s.IterForSession("A"), 2)
}

func TestAccessUpdatesCountAndTimestamp(t *testing.T) {
	s := New(false)
	id := s.Insert(newEntry("a", 10))
	require.NoError(t, s.Access(id, 5000))
	v, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, v.AccessCount)
	assert.EqualValues(t, 5000, v.LastAccessedAtMS)
}

func TestAccessUnknownIDReturnsNotFound(t *testing.T) {
	s := New(false)
	err := s.Access("nope", 0)
	assert.Error(t, err)
	var nf *ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestHotTierNeverHasCompressed(t *testing.T) {
	s := New(false)
	id := s.Insert(newEntry("a", 100))
	require.NoError(t, s.MutateTier(id, entrytype.Warm, &Compressed{CompressedTokens: 10}))
	// Promotion back to hot must clear the surrogate.
	require.NoError(t, s.MutateTier(id, entrytype.Hot, nil))
	v, _ := s.Get(id)
	assert.Nil(t, v.Compressed)
}

func TestResetClearsEverything(t *testing.T) {
	s := New(false)
	s.Insert(newEntry("a", 100))
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.EqualValues(t, 0, s.TotalEffectiveTokens())
}

func TestViewIsADeepCopy(t *testing.T) {
	s := New(false)
	e := newEntry("a", 10)
	e.Metadata.Tags = map[string]struct{}{"x": {}}
	id := s.Insert(e)

	v, _ := s.Get(id)
	v.Metadata.Tags["y"] = struct{}{}

	v2, _ := s.Get(id)
	assert.False(t, v2.HasTag("y"), "mutating a borrowed view must not affect stored state")
}
