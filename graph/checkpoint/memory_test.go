package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testState is a minimal JSON-serializable snapshot payload.
type testState struct {
	Phase string   `json:"phase"`
	Ready []string `json:"ready"`
}

func TestMemStore_SaveAndLoad(t *testing.T) {
	store := NewMemStore[testState]()
	ctx := context.Background()

	cp := Checkpoint[testState]{
		RunID:     "run-001",
		Sequence:  1,
		State:     testState{Phase: "extract", Ready: []string{"clean"}},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.LoadLatest(ctx, "run-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if got.Sequence != 1 || got.State.Phase != "extract" {
		t.Errorf("unexpected checkpoint: %+v", got)
	}
	if len(got.State.Ready) != 1 || got.State.Ready[0] != "clean" {
		t.Errorf("unexpected ready-set: %v", got.State.Ready)
	}
}

func TestMemStore_LatestWins(t *testing.T) {
	store := NewMemStore[testState]()
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		cp := Checkpoint[testState]{
			RunID:    "run-001",
			Sequence: seq,
			State:    testState{Phase: "step"},
		}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save seq %d failed: %v", seq, err)
		}
	}

	got, err := store.LoadLatest(ctx, "run-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if got.Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", got.Sequence)
	}
}

func TestMemStore_StaleSequence(t *testing.T) {
	store := NewMemStore[testState]()
	ctx := context.Background()

	if err := store.Save(ctx, Checkpoint[testState]{RunID: "run-001", Sequence: 5}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tests := []struct {
		name string
		seq  int
	}{
		{name: "lower sequence", seq: 4},
		{name: "same sequence", seq: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Save(ctx, Checkpoint[testState]{RunID: "run-001", Sequence: tt.seq})
			if !errors.Is(err, ErrStaleSequence) {
				t.Errorf("expected ErrStaleSequence, got %v", err)
			}
		})
	}

	// Staleness is per run; another run starts fresh.
	if err := store.Save(ctx, Checkpoint[testState]{RunID: "run-002", Sequence: 1}); err != nil {
		t.Errorf("Save for a different run failed: %v", err)
	}
}

func TestMemStore_NotFound(t *testing.T) {
	store := NewMemStore[testState]()

	_, err := store.LoadLatest(context.Background(), "run-404")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_Delete(t *testing.T) {
	store := NewMemStore[testState]()
	ctx := context.Background()

	if err := store.Save(ctx, Checkpoint[testState]{RunID: "run-001", Sequence: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Delete("run-001")

	if _, err := store.LoadLatest(ctx, "run-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after Delete, got %v", err)
	}

	// Deleting an unknown run is a no-op.
	store.Delete("run-404")
}
