package checkpoint

import (
	"context"
	"sync"
)

// MemStore is the in-process reference implementation of Store[S].
//
// It keeps the newest checkpoint per run (overwrite-by-run-id): resume always
// wants the latest snapshot, so retaining history buys nothing in memory.
//
// Designed for:
//   - Testing and development
//   - Single-process runs where durability across restarts isn't required
//
// MemStore is safe for concurrent use. For durability use SQLiteStore or
// MySQLStore.
type MemStore[S any] struct {
	mu     sync.RWMutex
	latest map[string]Checkpoint[S] // runID -> newest checkpoint
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		latest: make(map[string]Checkpoint[S]),
	}
}

// Save implements Store. Only the newest checkpoint per run is retained.
func (m *MemStore[S]) Save(_ context.Context, cp Checkpoint[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.latest[cp.RunID]; ok && cp.Sequence <= prev.Sequence {
		return ErrStaleSequence
	}
	m.latest[cp.RunID] = cp
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.latest[runID]
	if !ok {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	return cp, nil
}

// Delete removes the stored checkpoint for a run, if any. Useful for
// reclaiming memory once a run is terminal.
func (m *MemStore[S]) Delete(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, runID)
}
