package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a Run.
//
// Valid transitions:
//
//	PENDING -> RUNNING
//	RUNNING -> PAUSED | COMPLETED | FAILED | CANCELLED
//	PAUSED  -> RUNNING | CANCELLED
//
// COMPLETED, FAILED and CANCELLED are absorbing.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is one execution instance of a compiled graph.
//
// A Run is a plain record indexed by ID: it is owned exclusively by the
// Engine bound to it, created on submission, and mutated only by the engine's
// state-transition methods. Callers always receive copies.
type Run struct {
	ID      string    `json:"id"`
	GraphID string    `json:"graph_id"`
	Status  RunStatus `json:"status"`

	// Input is the caller-supplied input, fixed at submission.
	Input map[string]any `json:"input,omitempty"`

	// Output is the accumulated merge of node outputs. Set when the run
	// reaches COMPLETED.
	Output map[string]any `json:"output,omitempty"`

	// Error is the failure description when Status is FAILED.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// NodeStatus is the lifecycle state of a single node within a run.
type NodeStatus string

const (
	NodeIdle      NodeStatus = "IDLE"
	NodeRunning   NodeStatus = "RUNNING"
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed    NodeStatus = "FAILED"
	NodeCancelled NodeStatus = "CANCELLED"
)

// NodeState tracks one node's execution within a run, keyed by
// (run ID, node ID). Mutated only by the engine while executing the node or
// handling its completion.
type NodeState struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`

	// Progress is 0.0 for IDLE nodes and 1.0 once COMPLETED.
	Progress float64 `json:"progress"`

	// Messages are progress messages reported by the node's executor through
	// the reserved "messages" output key.
	Messages []string `json:"messages,omitempty"`

	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStatusReport is the read-only snapshot returned by Engine.Status.
type RunStatusReport struct {
	Status RunStatus `json:"status"`

	// Progress is the mean of all NodeState progress values across the plan.
	Progress float64 `json:"progress"`

	// CurrentNodes are the nodes executing at snapshot time.
	CurrentNodes []string `json:"current_nodes"`

	NodeStates map[string]NodeState `json:"node_states"`
}

// Snapshot is the checkpointable image of a run: the Run record, every
// NodeState, the ready-set, and the accumulated output. It contains no
// references back into the engine, so serialization is a plain JSON
// round-trip.
type Snapshot struct {
	Run        Run                  `json:"run"`
	NodeStates map[string]NodeState `json:"node_states"`
	Ready      []string             `json:"ready"`
	Output     map[string]any       `json:"output,omitempty"`
}

// newRunID generates a fresh run identifier.
func newRunID() string {
	return "run-" + uuid.NewString()
}

// deepCopyMap clones a string-keyed map through a JSON round-trip. Works for
// any JSON-serializable payload; nested maps and slices are fully detached
// from the original.
func deepCopyMap(src map[string]any) (map[string]any, error) {
	if src == nil {
		return nil, nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}
	return out, nil
}

// cloneRun copies a Run record, detaching its maps.
func cloneRun(r *Run) Run {
	out := *r
	if in, err := deepCopyMap(r.Input); err == nil {
		out.Input = in
	}
	if o, err := deepCopyMap(r.Output); err == nil {
		out.Output = o
	}
	return out
}

// cloneNodeState copies a NodeState record, detaching its message slice.
func cloneNodeState(ns *NodeState) NodeState {
	out := *ns
	if ns.Messages != nil {
		out.Messages = append([]string(nil), ns.Messages...)
	}
	return out
}
