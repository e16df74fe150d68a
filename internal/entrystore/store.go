package entrystore

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/icco/context-optimizer/internal/entrytype"
)

// ErrNotFound is returned by operations on an unknown id. Per the spec this
// is a recoverable signal — a concurrent prune may have removed the entry —
// not a hard error, so callers are expected to treat it as "absent", not
// propagate it as a failure.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("entrystore: entry %q not found", e.ID) }

// Store owns all entries for one engine instance (or, when session
// isolation is enabled, conceptually one session's slice of it — see
// IterForSession). It is the only mutable shared state in the engine;
// every mutation holds mu for its duration and the public API presents a
// serial view to callers, matching the engine's single-threaded-cooperative
// contract.
type Store struct {
	mu sync.RWMutex

	entries map[string]*Entry
	order   []string // insertion order, for FIFO-ish iteration and id stability

	bySource    map[string][]string
	byFilePath  map[string][]string
	bySessionID map[string][]string
	byTier      map[entrytype.Tier][]string

	totalEffectiveTokens uint64
	sessionIsolation     bool
}

// New creates an empty Store. sessionIsolation mirrors config.SessionIsolation:
// when true, every secondary lookup that accepts a sessionID argument refuses
// to read across sessions.
func New(sessionIsolation bool) *Store {
	return &Store{
		entries:          make(map[string]*Entry),
		bySource:         make(map[string][]string),
		byFilePath:       make(map[string][]string),
		bySessionID:      make(map[string][]string),
		byTier:           make(map[entrytype.Tier][]string),
		sessionIsolation: sessionIsolation,
	}
}

// Insert adds a new entry to the store and returns its id. Tokens, tier,
// and timestamps must already be populated by the caller (the facade is
// responsible for sizing via the token estimator and setting tier=hot).
// An id is generated with uuid.New() if the caller hasn't already set one
// (e.g. a snapshot restore re-inserting entries under their original ids),
// matching the teacher's use of uuid.New() for request/trajectory ids.
func (s *Store) Insert(e *Entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)

	if e.Metadata.Source != "" {
		s.bySource[e.Metadata.Source] = append(s.bySource[e.Metadata.Source], e.ID)
	}
	if e.Metadata.FilePath != "" {
		s.byFilePath[e.Metadata.FilePath] = append(s.byFilePath[e.Metadata.FilePath], e.ID)
	}
	if e.Metadata.SessionID != "" {
		s.bySessionID[e.Metadata.SessionID] = append(s.bySessionID[e.Metadata.SessionID], e.ID)
	}
	s.byTier[e.Tier] = append(s.byTier[e.Tier], e.ID)

	s.totalEffectiveTokens += uint64(e.EffectiveTokens())
	return e.ID
}

// Get returns a read-only view of the entry, or ok=false if unknown.
func (s *Store) Get(id string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return View{}, false
	}
	return view(e), true
}

// Remove deletes the entry. It is a no-op (not an error) if the id is
// already gone.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Store) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.totalEffectiveTokens -= uint64(e.EffectiveTokens())
	delete(s.entries, id)
	s.order = removeString(s.order, id)
	if e.Metadata.Source != "" {
		s.bySource[e.Metadata.Source] = removeString(s.bySource[e.Metadata.Source], id)
	}
	if e.Metadata.FilePath != "" {
		s.byFilePath[e.Metadata.FilePath] = removeString(s.byFilePath[e.Metadata.FilePath], id)
	}
	if e.Metadata.SessionID != "" {
		s.bySessionID[e.Metadata.SessionID] = removeString(s.bySessionID[e.Metadata.SessionID], id)
	}
	s.byTier[e.Tier] = removeString(s.byTier[e.Tier], id)
}

// Len returns the number of entries currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TotalEffectiveTokens returns the running total maintained incrementally
// across every Insert/Remove/mutation — never recomputed by summation, so
// this stays O(1).
func (s *Store) TotalEffectiveTokens() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalEffectiveTokens
}

// Iter returns a snapshot slice of all entries in insertion order.
func (s *Store) Iter() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]View, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok {
			out = append(out, view(e))
		}
	}
	return out
}

// BySource returns entries for a source in insertion order.
func (s *Store) BySource(source string) []View {
	return s.lookup(s.bySource, source)
}

// ByFilePath returns entries for a file path in insertion order.
func (s *Store) ByFilePath(path string) []View {
	return s.lookup(s.byFilePath, path)
}

// BySessionID returns entries for a session in insertion order. When
// session isolation is enabled this is the ONLY way callers should read
// entries scoped to one conversation; IterForSession enforces that for the
// facade.
func (s *Store) BySessionID(sessionID string) []View {
	return s.lookup(s.bySessionID, sessionID)
}

// ByTier returns entries currently in the given tier, in insertion order.
func (s *Store) ByTier(tier entrytype.Tier) []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTier[tier]
	out := make([]View, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, view(e))
		}
	}
	return out
}

func (s *Store) lookup(index map[string][]string, key string) []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := index[key]
	out := make([]View, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, view(e))
		}
	}
	return out
}

// IterForSession returns the entries a caller is allowed to see given the
// configured session isolation: all entries if isolation is off, or only
// the named session's entries if it is on. Cross-session reads are
// forbidden by construction — there is no parameter combination that
// returns another session's data while isolation is enabled.
func (s *Store) IterForSession(sessionID string) []View {
	if !s.sessionIsolation {
		return s.Iter()
	}
	return s.BySessionID(sessionID)
}

// Access records an access: bumps AccessCount and LastAccessedAtMS. It
// returns ErrNotFound if the id is unknown — a recoverable signal, not an
// error the caller need propagate.
func (s *Store) Access(id string, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	e.AccessCount++
	e.LastAccessedAtMS = nowMS
	return nil
}

// MutateTier updates an entry's tier and compressed surrogate atomically,
// keeping TotalEffectiveTokens consistent. This is the only path tiering
// code should use to change Tier/Compressed — going through the store
// (rather than handing out a mutable pointer) is what keeps the running
// total accurate, per the spec's invariant.
func (s *Store) MutateTier(id string, newTier entrytype.Tier, compressed *Compressed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}

	before := e.EffectiveTokens()

	if e.Tier != newTier {
		s.byTier[e.Tier] = removeString(s.byTier[e.Tier], id)
		s.byTier[newTier] = append(s.byTier[newTier], id)
		e.Tier = newTier
	}
	e.Compressed = compressed

	after := e.EffectiveTokens()
	s.totalEffectiveTokens = s.totalEffectiveTokens - uint64(before) + uint64(after)
	return nil
}

// SetRelevance writes a freshly-computed score back into the entry.
func (s *Store) SetRelevance(id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	e.Relevance = score
	return nil
}

// Reset removes every entry and zeroes all indices and counters.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.order = nil
	s.bySource = make(map[string][]string)
	s.byFilePath = make(map[string][]string)
	s.bySessionID = make(map[string][]string)
	s.byTier = make(map[entrytype.Tier][]string)
	s.totalEffectiveTokens = 0
}

func removeString(slice []string, target string) []string {
	for i, v := range slice {
		if v == target {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
