// Package event provides the per-run publish/subscribe fan-out for execution
// events, plus passive Sink backends (structured logs, OpenTelemetry spans).
package event

import "time"

// Type classifies an execution event.
type Type string

// Event types emitted by the engine. Per-node events carry the node ID;
// run-level events leave it empty.
const (
	RunStarted    Type = "run.started"
	NodeStarted   Type = "node.started"
	NodeCompleted Type = "node.completed"
	NodeFailed    Type = "node.failed"
	RunPaused     Type = "run.paused"
	RunResumed    Type = "run.resumed"
	RunCompleted  Type = "run.completed"
	RunFailed     Type = "run.failed"
	RunCancelled  Type = "run.cancelled"
)

// Event is one append-only execution record. Delivery to subscribers is
// live and best-effort; persisting event history is a collaborator concern,
// not the engine's.
//
// Ordering guarantee: events for a given node are published in causal order
// (started strictly before completed/failed). Events across different nodes
// of the same run may interleave.
type Event struct {
	// RunID identifies the execution that emitted this event.
	RunID string `json:"run_id"`

	// NodeID identifies the node for node-level events. Empty for run-level
	// events.
	NodeID string `json:"node_id,omitempty"`

	// Type classifies the event.
	Type Type `json:"type"`

	// Timestamp records when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries event-specific data:
	//   - node.completed: "progress"
	//   - node.failed, run.failed: "error"
	//   - run.completed: "output"
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink is a passive observer that receives every event the engine publishes,
// alongside broadcaster delivery.
//
// Implementations should be non-blocking and must not panic; a slow sink
// slows the publisher, unlike a slow subscriber which is simply dropped.
type Sink interface {
	Write(ev Event)
}
