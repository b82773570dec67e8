package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
)

func diamond() *Graph {
	return &Graph{
		ID: "diamond",
		Nodes: []Node{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	}
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name   string
		graph  *Graph
		reason string
	}{
		{
			name:   "nil graph",
			graph:  nil,
			reason: "graph cannot be nil",
		},
		{
			name:   "empty graph",
			graph:  &Graph{ID: "g"},
			reason: "no nodes",
		},
		{
			name: "empty node ID",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: ""}},
			},
			reason: "node ID cannot be empty",
		},
		{
			name: "duplicate node IDs",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "a"}, {ID: "a"}},
			},
			reason: "duplicate node ID",
		},
		{
			name: "reserved node ID",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "__start__"}},
			},
			reason: "reserved",
		},
		{
			name: "edge to unknown node",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{From: "a", To: "ghost"}},
			},
			reason: "unknown node",
		},
		{
			name: "edge from unknown node",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{From: "ghost", To: "a"}},
			},
			reason: "unknown node",
		},
		{
			name: "edge with empty endpoint",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{From: "", To: "a"}},
			},
			reason: "cannot be empty",
		},
		{
			name: "edge originating from end marker",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{From: "__end__", To: "a"}},
			},
			reason: "cannot originate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.graph)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !strings.Contains(verr.Reason, tt.reason) {
				t.Errorf("reason %q does not contain %q", verr.Reason, tt.reason)
			}
		})
	}
}

func TestCompile_CycleDetection(t *testing.T) {
	tests := []struct {
		name  string
		graph *Graph
	}{
		{
			name: "self loop",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "entry"}, {ID: "a"}},
				Edges: []Edge{{From: "entry", To: "a"}, {From: "a", To: "a"}},
			},
		},
		{
			name: "two node cycle",
			graph: &Graph{
				ID:    "g",
				Nodes: []Node{{ID: "entry"}, {ID: "a"}, {ID: "b"}},
				Edges: []Edge{
					{From: "entry", To: "a"},
					{From: "a", To: "b"},
					{From: "b", To: "a"},
				},
			},
		},
		{
			name: "long cycle behind a diamond",
			graph: &Graph{
				ID: "g",
				Nodes: []Node{
					{ID: "entry"}, {ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
				},
				Edges: []Edge{
					{From: "entry", To: "a"},
					{From: "a", To: "b"},
					{From: "b", To: "c"},
					{From: "c", To: "d"},
					{From: "d", To: "b"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.graph)

			var cerr *CyclicGraphError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *CyclicGraphError, got %v", err)
			}
			if len(cerr.Path) < 2 {
				t.Errorf("cycle path too short: %v", cerr.Path)
			}
			if cerr.Path[0] != cerr.Path[len(cerr.Path)-1] {
				t.Errorf("cycle path should return to its first node: %v", cerr.Path)
			}
		})
	}
}

func TestCompile_SelfLoopPath(t *testing.T) {
	g := &Graph{
		ID:    "g",
		Nodes: []Node{{ID: "entry"}, {ID: "a"}},
		Edges: []Edge{{From: "entry", To: "a"}, {From: "a", To: "a"}},
	}

	_, err := Compile(g)

	var cerr *CyclicGraphError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CyclicGraphError, got %v", err)
	}
	if len(cerr.Path) != 2 || cerr.Path[0] != "a" || cerr.Path[1] != "a" {
		t.Errorf("expected self-loop path [a a], got %v", cerr.Path)
	}
}

func TestCompile_NoEntryPoint(t *testing.T) {
	// Every node has an incoming edge; the cycle check never runs because
	// entry detection fails first.
	g := &Graph{
		ID:    "orphaned",
		Nodes: []Node{{ID: "a"}, {ID: "b"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	_, err := Compile(g)

	var nerr *NoEntryPointError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *NoEntryPointError, got %v", err)
	}
	if nerr.GraphID != "orphaned" {
		t.Errorf("expected graph ID orphaned, got %s", nerr.GraphID)
	}
}

func TestCompile_Adjacency(t *testing.T) {
	plan, err := Compile(diamond())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if got := plan.Entries; len(got) != 1 || got[0] != "a" {
		t.Errorf("expected entries [a], got %v", got)
	}

	succ := append([]string(nil), plan.Successors["a"]...)
	sort.Strings(succ)
	if len(succ) != 2 || succ[0] != "b" || succ[1] != "c" {
		t.Errorf("expected successors of a to be [b c], got %v", succ)
	}

	pred := append([]string(nil), plan.Predecessors["d"]...)
	sort.Strings(pred)
	if len(pred) != 2 || pred[0] != "b" || pred[1] != "c" {
		t.Errorf("expected predecessors of d to be [b c], got %v", pred)
	}
}

func TestCompile_VirtualMarkers(t *testing.T) {
	t.Run("start edges select explicit entries", func(t *testing.T) {
		g := &Graph{
			ID:    "g",
			Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Edges: []Edge{
				{From: StartNodeID, To: "a"},
				{From: StartNodeID, To: "b"},
				{From: "a", To: "c"},
				{From: "b", To: "c"},
			},
		}

		plan, err := Compile(g)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(plan.Entries) != 2 || plan.Entries[0] != "a" || plan.Entries[1] != "b" {
			t.Errorf("expected entries [a b], got %v", plan.Entries)
		}
	})

	t.Run("end edges carry no dependency", func(t *testing.T) {
		g := &Graph{
			ID:    "g",
			Nodes: []Node{{ID: "a"}},
			Edges: []Edge{{From: "a", To: EndNodeID}},
		}

		plan, err := Compile(g)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(plan.Successors["a"]) != 0 {
			t.Errorf("end marker should not appear as a successor: %v", plan.Successors["a"])
		}
	})
}

func TestCompile_ExplicitEntryValidation(t *testing.T) {
	t.Run("entry with incoming edges", func(t *testing.T) {
		// "b" would dispatch at run start while also depending on "a".
		g := &Graph{
			ID:    "g",
			Nodes: []Node{{ID: "a"}, {ID: "b"}},
			Edges: []Edge{
				{From: StartNodeID, To: "b"},
				{From: "a", To: "b"},
			},
		}

		_, err := Compile(g)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		if !strings.Contains(verr.Reason, "entry node b has incoming edges") {
			t.Errorf("unexpected reason: %q", verr.Reason)
		}
	})

	t.Run("node unreachable from explicit entries", func(t *testing.T) {
		// "a" has no predecessors but is not named an entry, so it would
		// stay IDLE forever.
		g := &Graph{
			ID:    "g",
			Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Edges: []Edge{
				{From: StartNodeID, To: "b"},
				{From: "b", To: "c"},
			},
		}

		_, err := Compile(g)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		if !strings.Contains(verr.Reason, "unreachable") || !strings.Contains(verr.Reason, "a") {
			t.Errorf("unexpected reason: %q", verr.Reason)
		}
	})
}

func TestCompile_PlanIsReusable(t *testing.T) {
	plan, err := Compile(diamond())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	// Two engines over one plan must not interfere.
	for i := 0; i < 2; i++ {
		eng, err := NewEngine(plan, countingExecutor(nil))
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if _, err := eng.Start(context.Background(), nil); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitTerminal(t, eng)
		if got := eng.GetRun().Status; got != RunCompleted {
			t.Errorf("run %d: expected COMPLETED, got %s", i, got)
		}
	}
}
