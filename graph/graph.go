// Package graph provides the core run execution engine for GraphRun-Go.
package graph

import "fmt"

// StartNodeID is the distinguished virtual source node. An edge from
// StartNodeID marks its target as an entry node of the graph. The virtual
// node itself is never executed.
const StartNodeID = "__start__"

// EndNodeID is the distinguished virtual sink node. An edge to EndNodeID
// marks its source as an exit node of the graph. The virtual node itself
// is never executed.
const EndNodeID = "__end__"

// Graph is the declarative node/edge definition submitted for execution.
//
// A Graph carries no behavior: each node's work is supplied externally as an
// Executor keyed by node ID. The wire format is:
//
//	{
//	    "id": "etl",
//	    "nodes": [{"id": "extract", "label": "Extract"}, ...],
//	    "edges": [{"from": "extract", "to": "load"}, ...]
//	}
//
// Invariants (enforced by Compile, not at runtime):
//   - Node IDs are unique
//   - Every edge references existing node IDs (virtual endpoints allowed)
//   - The induced graph is acyclic
type Graph struct {
	// ID identifies the graph definition. A graph may be executed many times;
	// each execution is a separate Run.
	ID string `json:"id"`

	// Nodes are the units of work in the graph.
	Nodes []Node `json:"nodes"`

	// Edges define completion dependencies between nodes.
	Edges []Edge `json:"edges"`
}

// Node is a unit of work in the graph. The engine is agnostic to what a node
// does; behavior is bound at execution time through an Executor.
type Node struct {
	// ID uniquely identifies the node within its graph.
	ID string `json:"id"`

	// Label is a human-readable display name. Optional.
	Label string `json:"label,omitempty"`
}

// Edge declares that To depends on From: From must reach COMPLETED before
// To may be dispatched.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// validate checks the structural invariants that do not require traversal:
// non-empty IDs, unique node IDs, and edge endpoints that reference declared
// nodes or the virtual __start__/__end__ markers.
//
// Returns *ValidationError describing the first violation found.
func (g *Graph) validate() error {
	if len(g.Nodes) == 0 {
		return &ValidationError{Reason: "graph has no nodes"}
	}

	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return &ValidationError{Reason: "node ID cannot be empty"}
		}
		if n.ID == StartNodeID || n.ID == EndNodeID {
			return &ValidationError{Reason: fmt.Sprintf("node ID %q is reserved", n.ID)}
		}
		if _, dup := seen[n.ID]; dup {
			return &ValidationError{Reason: "duplicate node ID: " + n.ID}
		}
		seen[n.ID] = struct{}{}
	}

	for _, e := range g.Edges {
		if e.From == "" || e.To == "" {
			return &ValidationError{Reason: "edge endpoints cannot be empty"}
		}
		if e.From == EndNodeID {
			return &ValidationError{Reason: "edge cannot originate from " + EndNodeID}
		}
		if e.To == StartNodeID {
			return &ValidationError{Reason: "edge cannot target " + StartNodeID}
		}
		if _, ok := seen[e.From]; !ok && e.From != StartNodeID {
			return &ValidationError{Reason: "edge references unknown node: " + e.From}
		}
		if _, ok := seen[e.To]; !ok && e.To != EndNodeID {
			return &ValidationError{Reason: "edge references unknown node: " + e.To}
		}
	}

	return nil
}
