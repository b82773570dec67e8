package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/graphrun-go/graph/checkpoint"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry()

	if err := r.Acquire("run-1", nil); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	err := r.Acquire("run-1", nil)
	var aerr *AlreadyRunningError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AlreadyRunningError, got %v", err)
	}
	if aerr.RunID != "run-1" {
		t.Errorf("expected run ID run-1, got %s", aerr.RunID)
	}

	// A different run ID is independent.
	if err := r.Acquire("run-2", nil); err != nil {
		t.Fatalf("Acquire of a second run failed: %v", err)
	}

	r.Release("run-1")
	if err := r.Acquire("run-1", nil); err != nil {
		t.Errorf("Acquire after Release failed: %v", err)
	}

	// Releasing an unheld ID is a no-op.
	r.Release("run-404")
}

func TestRegistry_Active(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"run-c", "run-a", "run-b"} {
		if err := r.Acquire(id, nil); err != nil {
			t.Fatalf("Acquire %s failed: %v", id, err)
		}
	}

	got := r.Active()
	want := []string{"run-a", "run-b", "run-c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	r.Release("run-b")
	if got := r.Active(); len(got) != 2 {
		t.Errorf("expected 2 active runs, got %v", got)
	}
}

func TestRegistry_ConcurrentAcquire(t *testing.T) {
	r := NewRegistry()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Acquire("run-contested", nil); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("expected exactly one winner, got %d", won)
	}
}

func TestRegistry_EngineLifecycle(t *testing.T) {
	r := NewRegistry()
	plan := linearPlan(t)

	t.Run("released on completion", func(t *testing.T) {
		eng, err := NewEngine(plan, countingExecutor(nil), WithRegistry(r))
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if _, err := eng.Start(context.Background(), nil); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitTerminal(t, eng)

		if _, held := r.Get(eng.RunID()); held {
			t.Error("registry still holds the run after completion")
		}
	})

	t.Run("held while running", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		exec := ExecutorFunc(func(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error) {
			once.Do(func() { close(started) })
			<-release
			return nil, nil
		})

		eng, err := NewEngine(plan, exec, WithRegistry(r))
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if _, err := eng.Start(context.Background(), nil); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		<-started

		if err := r.Acquire(eng.RunID(), nil); err == nil {
			t.Error("Acquire should fail while the engine holds the run")
		}
		got, held := r.Get(eng.RunID())
		if !held || got != eng {
			t.Error("registry should report the running engine")
		}

		close(release)
		waitTerminal(t, eng)
	})

	t.Run("released on pause and reacquired on resume", func(t *testing.T) {
		store := checkpoint.NewMemStore[Snapshot]()
		eng := pauseAfterEntry(t, store, nil, WithRegistry(r))

		if _, held := r.Get(eng.RunID()); held {
			t.Error("registry still holds the run while paused")
		}

		if _, err := eng.Resume(context.Background()); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		waitTerminal(t, eng)

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, held := r.Get(eng.RunID()); !held {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Error("registry still holds the run after the resumed run finished")
	})
}
