// Package checkpoint provides durable snapshots of run state for
// pause/resume, with an in-memory reference store and SQLite/MySQL backed
// implementations.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by LoadLatest when the run has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// ErrStaleSequence is returned by Save when the checkpoint's sequence number
// is not greater than the newest one already stored for the run. Sequence
// numbers are monotonically increasing per run; a stale write indicates two
// writers racing on the same run, which the run registry is meant to prevent.
var ErrStaleSequence = errors.New("checkpoint sequence is stale")

// Checkpoint is one immutable snapshot of a run. Many checkpoints may exist
// per run; resume always wants the newest (highest Sequence).
//
// Type parameter S is the snapshot payload. The engine uses its own Snapshot
// record (run + node states + ready-set + accumulated output); S must be
// JSON-serializable.
type Checkpoint[S any] struct {
	// RunID identifies the run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Sequence is the monotonically increasing version within the run.
	Sequence int `json:"sequence"`

	// State is the snapshot payload, immutable once written.
	State S `json:"state"`

	// CreatedAt records when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists checkpoints.
//
// The reference implementation (MemStore) keeps only the newest checkpoint
// per run; durable implementations (SQLiteStore, MySQLStore) append rows and
// may prune old ones.
type Store[S any] interface {
	// Save persists a checkpoint. Fails with ErrStaleSequence if a checkpoint
	// with an equal or higher sequence already exists for the run.
	Save(ctx context.Context, cp Checkpoint[S]) error

	// LoadLatest returns the checkpoint with the highest sequence number for
	// the run, or ErrNotFound.
	LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error)
}
