package graph

import (
	"sort"
	"sync"
)

// Registry tracks the live Engine per run ID and enforces that at most one
// engine actively schedules a given run at a time.
//
// The registry is the only structure shared across runs; it holds its own
// lock and no lock spanning multiple runs exists anywhere else. Acquisition
// is an explicit contract rather than an ambient global map: two callers
// racing to start or resume the same run see AlreadyRunningError instead of
// duplicate dispatch.
//
// Engines constructed WithRegistry acquire on Start/Resume and release when
// the run pauses or reaches a terminal status.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
	}
}

// Acquire claims a run ID for the given engine. Fails with
// *AlreadyRunningError when another live engine holds the ID.
func (r *Registry) Acquire(runID string, eng *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.engines[runID]; held {
		return &AlreadyRunningError{RunID: runID}
	}
	r.engines[runID] = eng
	return nil
}

// Release frees a run ID. Releasing an unheld ID is a no-op.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, runID)
}

// Get returns the engine currently holding a run ID, if any.
func (r *Registry) Get(runID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[runID]
	return eng, ok
}

// Active returns the sorted run IDs with a live engine attached.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
