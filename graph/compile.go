package graph

import (
	"sort"
	"strings"
)

// ExecutionPlan is the output of Compile: the validated graph plus the
// precomputed adjacency used by the Engine to evaluate readiness in O(1)
// amortized time per node completion.
//
// Successors and Predecessors exclude the virtual __start__/__end__ markers;
// they describe only real, dispatchable nodes.
//
// A plan is immutable after Compile and safe to share across concurrent runs
// of the same graph.
type ExecutionPlan struct {
	// Graph is the validated definition this plan was compiled from.
	Graph *Graph

	// Successors maps a node ID to its direct successors.
	Successors map[string][]string

	// Predecessors maps a node ID to its direct predecessors.
	Predecessors map[string][]string

	// Entries are the nodes eligible for dispatch at run start: nodes with no
	// incoming edges, or nodes explicitly targeted by a __start__ edge.
	Entries []string
}

// traversal colors for cycle detection.
const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS stack
	colorBlack        // fully explored
)

// Compile validates a graph definition and produces an ExecutionPlan.
//
// Validation stages:
//  1. Structural: unique node IDs, edge endpoints exist (*ValidationError)
//  2. Entry points: at least one dispatchable entry node (*NoEntryPointError);
//     explicit __start__ entries must carry no incoming edges, or they would
//     dispatch before their predecessors complete (*ValidationError)
//  3. Acyclicity: three-color depth-first traversal; a back-edge to a gray
//     node signals a cycle (*CyclicGraphError carrying the offending path)
//  4. Reachability: every node must be reachable from an entry node, so a run
//     can never COMPLETE with nodes still IDLE (*ValidationError)
//
// Compile-time errors abort before any run state is created; they are never
// retried by the engine.
func Compile(g *Graph) (*ExecutionPlan, error) {
	if g == nil {
		return nil, &ValidationError{Reason: "graph cannot be nil"}
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		Graph:        g,
		Successors:   make(map[string][]string, len(g.Nodes)),
		Predecessors: make(map[string][]string, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		plan.Successors[n.ID] = nil
		plan.Predecessors[n.ID] = nil
	}

	// Build adjacency, dropping edges that touch the virtual markers; a
	// __start__ edge only declares an explicit entry node.
	explicitEntries := make(map[string]struct{})
	for _, e := range g.Edges {
		if e.From == StartNodeID {
			explicitEntries[e.To] = struct{}{}
			continue
		}
		if e.To == EndNodeID {
			continue
		}
		plan.Successors[e.From] = append(plan.Successors[e.From], e.To)
		plan.Predecessors[e.To] = append(plan.Predecessors[e.To], e.From)
	}

	if len(explicitEntries) > 0 {
		for id := range explicitEntries {
			plan.Entries = append(plan.Entries, id)
		}
	} else {
		for _, n := range g.Nodes {
			if len(plan.Predecessors[n.ID]) == 0 {
				plan.Entries = append(plan.Entries, n.ID)
			}
		}
	}
	sort.Strings(plan.Entries)

	if len(plan.Entries) == 0 {
		return nil, &NoEntryPointError{GraphID: g.ID}
	}
	if len(explicitEntries) > 0 {
		for _, id := range plan.Entries {
			if len(plan.Predecessors[id]) > 0 {
				return nil, &ValidationError{Reason: "entry node " + id + " has incoming edges"}
			}
		}
	}

	if path := findCycle(plan); path != nil {
		return nil, &CyclicGraphError{Path: path}
	}

	if unreached := unreachable(plan); len(unreached) > 0 {
		return nil, &ValidationError{
			Reason: "nodes unreachable from the entry nodes: " + strings.Join(unreached, ", "),
		}
	}

	return plan, nil
}

// unreachable returns the sorted node IDs no entry node reaches. Only graphs
// with explicit __start__ entries can produce them: without explicit entries
// every node of a DAG descends from some zero-predecessor node.
func unreachable(plan *ExecutionPlan) []string {
	seen := make(map[string]struct{}, len(plan.Successors))
	queue := append([]string(nil), plan.Entries...)
	for _, id := range plan.Entries {
		seen[id] = struct{}{}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range plan.Successors[id] {
			if _, ok := seen[succ]; ok {
				continue
			}
			seen[succ] = struct{}{}
			queue = append(queue, succ)
		}
	}

	var out []string
	for id := range plan.Successors {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// findCycle runs a three-color DFS over the plan's adjacency and returns the
// node path of the first cycle found, or nil when the graph is a DAG.
//
// The returned path runs from the first node on the cycle back to itself,
// e.g. a self-loop on "a" yields ["a", "a"].
func findCycle(plan *ExecutionPlan) []string {
	color := make(map[string]int, len(plan.Successors))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = colorGray
		stack = append(stack, id)

		for _, succ := range plan.Successors[id] {
			switch color[succ] {
			case colorGray:
				// Back-edge: slice the cycle out of the DFS stack.
				for i, on := range stack {
					if on == succ {
						path := make([]string, 0, len(stack)-i+1)
						path = append(path, stack[i:]...)
						return append(path, succ)
					}
				}
			case colorWhite:
				if path := visit(succ); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
		return nil
	}

	// Deterministic traversal order keeps the reported cycle stable.
	ids := make([]string, 0, len(plan.Successors))
	for id := range plan.Successors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == colorWhite {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}
