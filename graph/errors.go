package graph

import (
	"fmt"
	"strings"
	"time"
)

// Compile-time errors. These surface to the caller before any run state is
// created and are never retried automatically.

// ValidationError reports malformed graph input: empty or duplicate node IDs,
// dangling edge endpoints, reserved IDs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid graph: " + e.Reason
}

// CyclicGraphError reports that the submitted graph contains a cycle.
// Path is the offending node sequence, first node repeated at the end
// (a self-loop on "a" yields ["a", "a"]).
type CyclicGraphError struct {
	Path []string
}

func (e *CyclicGraphError) Error() string {
	return "graph contains a cycle: " + strings.Join(e.Path, " -> ")
}

// NoEntryPointError reports that no node is eligible for initial dispatch:
// every node has at least one incoming edge and no __start__ edge names an
// explicit entry.
type NoEntryPointError struct {
	GraphID string
}

func (e *NoEntryPointError) Error() string {
	return "graph " + e.GraphID + " has no entry point"
}

// Runtime errors. A node failure propagates to Run status FAILED; the engine
// itself never retries and never panics across the invocation boundary.

// NodeExecutionError wraps a node's own failure. Retry is the Executor's
// concern if desired; the engine treats the node as terminally failed.
type NodeExecutionError struct {
	NodeID string
	Cause  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// NodeTimeoutError reports that a node exceeded its configured timeout.
// Treated identically to an execution error: the node is marked FAILED and
// the run fails.
type NodeTimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *NodeTimeoutError) Error() string {
	return fmt.Sprintf("node %s exceeded timeout of %v", e.NodeID, e.Timeout)
}

// Caller-facing control errors. Always returned synchronously from the
// control methods; they never crash the engine.

// InvalidTransitionError reports a control request that is not valid from the
// run's current status (e.g. Pause on a run that is not RUNNING).
type InvalidTransitionError struct {
	RunID     string
	Current   RunStatus
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s: cannot %s from status %s", e.RunID, e.Requested, e.Current)
}

// NoCheckpointError reports a Resume request for a run with no persisted
// checkpoint.
type NoCheckpointError struct {
	RunID string
}

func (e *NoCheckpointError) Error() string {
	return "run " + e.RunID + ": no checkpoint to resume from"
}

// AlreadyRunningError reports an attempt to acquire a run ID that another
// live engine already holds. At most one engine may actively schedule a
// given run at a time.
type AlreadyRunningError struct {
	RunID string
}

func (e *AlreadyRunningError) Error() string {
	return "run " + e.RunID + " is already being executed"
}
