package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lpm-project/lpm/internal/model"
)

// MemoryStore is an in-process Store backend for tests and for
// --allow-fallback when the SQLite store cannot be opened; nothing it holds
// is written to disk.
type MemoryStore struct {
	mu        sync.Mutex
	installed map[string]model.InstalledRecord
	history   []model.HistoryEntry
	snapshots []model.SnapshotRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{installed: make(map[string]model.InstalledRecord)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Installed(_ context.Context) ([]model.InstalledRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.InstalledRecord, 0, len(m.installed))
	for _, r := range m.installed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, name string) (model.InstalledRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.installed[name]
	return r, ok, nil
}

func (m *MemoryStore) History(_ context.Context, limit int) ([]model.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.HistoryEntry, len(m.history))
	for i, e := range m.history {
		out[len(m.history)-1-i] = e
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Snapshots(_ context.Context) ([]model.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SnapshotRecord, len(m.snapshots))
	for i, s := range m.snapshots {
		out[len(m.snapshots)-1-i] = s
	}
	return out, nil
}

func (m *MemoryStore) DeleteSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.snapshots = kept
	return nil
}

// Begin buffers writes in the returned Tx; nothing is visible to readers
// until Commit, which applies the whole batch under the store lock. Reads
// through the Store interface remain usable while a Tx is open (the
// transaction engine looks up installed records mid-transaction).
func (m *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{store: m}, nil
}

type memoryTx struct {
	store  *MemoryStore
	done   bool
	writes []func()
}

func (t *memoryTx) Upsert(rec model.InstalledRecord) error {
	t.writes = append(t.writes, func() { t.store.installed[rec.Name] = rec })
	return nil
}

func (t *memoryTx) Delete(name string) error {
	t.writes = append(t.writes, func() { delete(t.store.installed, name) })
	return nil
}

func (t *memoryTx) AppendHistory(entry model.HistoryEntry) error {
	t.writes = append(t.writes, func() {
		entry.ID = int64(len(t.store.history) + 1)
		t.store.history = append(t.store.history, entry)
	})
	return nil
}

func (t *memoryTx) Snapshot(tag, path string) (model.SnapshotRecord, error) {
	rec := model.SnapshotRecord{ID: uuid.NewString(), CreatedAt: now(), Tag: tag, Path: path}
	t.writes = append(t.writes, func() { t.store.snapshots = append(t.store.snapshots, rec) })
	return rec, nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, w := range t.writes {
		w()
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.writes = nil
	return nil
}
