package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SnapshotStore persists named opaque blobs. save_snapshot/restore are
// atomic from the engine's perspective; implementations must never expose
// a partially-written blob to a concurrent Load.
type SnapshotStore interface {
	Save(ctx context.Context, name string, blob []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// MemoryStore is the default SnapshotStore: an in-memory map, adequate for
// a single process lifetime (snapshots don't survive a restart unless the
// caller also wires SQLiteStore).
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Save implements SnapshotStore.
func (m *MemoryStore) Save(_ context.Context, name string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.mu.Lock()
	m.blobs[name] = cp
	m.mu.Unlock()
	return nil
}

// Load implements SnapshotStore.
func (m *MemoryStore) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("metrics: snapshot %q not found", name)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// SQLiteStore persists blobs to a pure-Go, CGO-free sqlite database,
// matching the driver the rest of the pack uses for durable local state.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a sqlite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metrics: opening sqlite snapshot store: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics: creating snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements SnapshotStore with a single upserting statement, so a
// concurrent Load never observes a half-written row.
func (s *SQLiteStore) Save(ctx context.Context, name string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, blob, updated_at) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(name) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		name, blob)
	if err != nil {
		return fmt.Errorf("metrics: saving snapshot %q: %w", name, err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *SQLiteStore) Load(ctx context.Context, name string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM snapshots WHERE name = ?`, name).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("metrics: loading snapshot %q: %w", name, err)
	}
	return blob, nil
}
