package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/graphrun-go/graph/checkpoint"
	"github.com/dshills/graphrun-go/graph/event"
)

// Engine drives one Run of a compiled plan to completion.
//
// The Engine is the only component with state-machine and concurrency
// semantics:
//   - Advances the run through ready nodes up to the configured parallelism
//   - Tracks per-node and per-run state as plain map-indexed records
//   - Pauses and resumes from a durable checkpoint
//   - Honors cooperative cancellation at dispatch boundaries
//   - Publishes execution events to any number of live observers
//
// One scheduling goroutine exists per active run. All bookkeeping (node
// state transitions, ready-set mutation, checkpoint snapshots) is serialized
// behind a single per-run mutex; Executor invocations never hold it.
//
// Example:
//
//	plan, err := graph.Compile(&g)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := graph.NewEngine(plan, exec,
//	    graph.WithMaxParallel(8),
//	    graph.WithCheckpointStore(store),
//	    graph.WithRegistry(registry),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sub := eng.Subscribe()
//	run, err := eng.Start(ctx, map[string]any{"query": "hello"})
//	for ev := range sub.Events() {
//	    fmt.Println(ev.Type)
//	}
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	plan *ExecutionPlan
	exec Executor
	cfg  engineConfig

	run        *Run
	nodeStates map[string]*NodeState
	ready      []string
	inflight   map[string]struct{}
	output     map[string]any
	seq        int

	pauseRequested  bool
	cancelRequested bool
	failure         error

	results chan execResult
}

// NewEngine creates an Engine bound to a fresh Run in PENDING status.
//
// Parameters:
//   - plan: compiled execution plan (required)
//   - exec: node behavior, invoked once per dispatched node (required)
//   - opts: functional options; see options.go
//
// Defaults: generated run ID, DefaultMaxParallel dispatch width, in-memory
// checkpoint store, private broadcaster, no timeout, no metrics, no registry.
func NewEngine(plan *ExecutionPlan, exec Executor, opts ...Option) (*Engine, error) {
	if plan == nil || plan.Graph == nil {
		return nil, &ValidationError{Reason: "execution plan cannot be nil"}
	}
	if exec == nil {
		return nil, &ValidationError{Reason: "executor cannot be nil"}
	}

	cfg := engineConfig{maxParallel: DefaultMaxParallel}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.store == nil {
		cfg.store = checkpoint.NewMemStore[Snapshot]()
	}
	if cfg.broadcaster == nil {
		m := cfg.metrics
		cfg.broadcaster = event.NewBroadcaster(event.WithDropHandler(func(string) {
			m.SubscriberDropped()
		}))
	}
	if cfg.runID == "" {
		cfg.runID = newRunID()
	}

	e := &Engine{
		plan: plan,
		exec: exec,
		cfg:  cfg,
		run: &Run{
			ID:      cfg.runID,
			GraphID: plan.Graph.ID,
			Status:  RunPending,
		},
		nodeStates: make(map[string]*NodeState, len(plan.Graph.Nodes)),
		inflight:   make(map[string]struct{}),
		results:    make(chan execResult, len(plan.Graph.Nodes)),
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// RunID returns the run identifier this engine is bound to.
func (e *Engine) RunID() string {
	return e.run.ID
}

// Subscribe opens an event stream for this run on the engine's broadcaster.
// The stream ends when the run reaches a terminal status.
func (e *Engine) Subscribe() *event.Subscription {
	return e.cfg.broadcaster.Subscribe(e.run.ID)
}

// Broadcaster exposes the engine's broadcaster, e.g. for Unsubscribe.
func (e *Engine) Broadcaster() *event.Broadcaster {
	return e.cfg.broadcaster
}

// Start begins execution: PENDING -> RUNNING, all node states IDLE, the
// ready-set seeded with the plan's entry nodes, and the scheduling goroutine
// launched. Returns a copy of the Run in RUNNING status.
//
// The context bounds the whole run: cancelling it is equivalent to Cancel.
//
// Fails with *InvalidTransitionError unless the run is PENDING, and with
// *AlreadyRunningError when a registry is attached and the run ID is held.
func (e *Engine) Start(ctx context.Context, input map[string]any) (Run, error) {
	in, err := deepCopyMap(input)
	if err != nil {
		return Run{}, &ValidationError{Reason: "run input is not serializable: " + err.Error()}
	}

	e.mu.Lock()
	if e.run.Status != RunPending {
		defer e.mu.Unlock()
		return Run{}, &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "start"}
	}
	if e.cfg.registry != nil {
		if err := e.cfg.registry.Acquire(e.run.ID, e); err != nil {
			e.mu.Unlock()
			return Run{}, err
		}
	}

	e.run.Input = in
	e.run.Status = RunRunning
	e.run.StartedAt = time.Now()
	for _, n := range e.plan.Graph.Nodes {
		e.nodeStates[n.ID] = &NodeState{NodeID: n.ID, Status: NodeIdle}
	}
	e.ready = append([]string(nil), e.plan.Entries...)
	e.output = make(map[string]any)

	ev := e.eventLocked(event.RunStarted, "", nil)
	snapshot := cloneRun(e.run)
	e.mu.Unlock()

	e.emit(ev)
	go e.loop(ctx)
	return snapshot, nil
}

// Pause stops dispatching new nodes, waits for in-flight nodes to reach a
// terminal node state (pause is cooperative at node granularity), writes a
// checkpoint, and transitions the run to PAUSED. Blocks until the transition
// lands and returns the updated Run.
//
// Fails with *InvalidTransitionError if the run is not RUNNING, or if a
// concurrent cancel or failure wins the race while draining.
func (e *Engine) Pause(ctx context.Context) (Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.Status != RunRunning {
		return Run{}, &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "pause"}
	}

	e.pauseRequested = true
	for e.run.Status == RunRunning {
		e.cond.Wait()
	}

	if e.run.Status != RunPaused {
		return cloneRun(e.run), &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "pause"}
	}
	return cloneRun(e.run), nil
}

// Resume restores the run from its latest checkpoint and continues dispatch:
// PAUSED -> RUNNING. Nodes already COMPLETED before the pause are never
// re-executed.
//
// Fails with *InvalidTransitionError if the run is not PAUSED,
// *NoCheckpointError if no checkpoint exists, and *AlreadyRunningError when
// a registry is attached and the run ID is held.
func (e *Engine) Resume(ctx context.Context) (Run, error) {
	e.mu.Lock()
	if e.run.Status != RunPaused {
		defer e.mu.Unlock()
		return Run{}, &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "resume"}
	}
	runID := e.run.ID
	e.mu.Unlock()

	cp, err := e.cfg.store.LoadLatest(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return Run{}, &NoCheckpointError{RunID: runID}
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load checkpoint for run %s: %w", runID, err)
	}

	e.mu.Lock()
	// Recheck: a concurrent Cancel may have won while the checkpoint loaded.
	if e.run.Status != RunPaused {
		defer e.mu.Unlock()
		return Run{}, &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "resume"}
	}
	if e.cfg.registry != nil {
		if err := e.cfg.registry.Acquire(runID, e); err != nil {
			e.mu.Unlock()
			return Run{}, err
		}
	}

	// Detach all restored state from the checkpoint. Stores may hand back
	// the stored value itself (MemStore does), and a written checkpoint is
	// immutable: later merges must never reach the persisted maps or slices.
	restored := cloneRun(&cp.State.Run)
	restored.Status = RunRunning
	*e.run = restored

	e.nodeStates = make(map[string]*NodeState, len(cp.State.NodeStates))
	for id, ns := range cp.State.NodeStates {
		st := cloneNodeState(&ns)
		e.nodeStates[id] = &st
	}
	e.ready = append([]string(nil), cp.State.Ready...)
	out, copyErr := deepCopyMap(cp.State.Output)
	if copyErr != nil {
		out = make(map[string]any, len(cp.State.Output))
		for k, v := range cp.State.Output {
			out[k] = v
		}
	}
	e.output = out
	if e.output == nil {
		e.output = make(map[string]any)
	}
	e.seq = cp.Sequence

	e.pauseRequested = false
	e.cancelRequested = false
	e.failure = nil

	ev := e.eventLocked(event.RunResumed, "", nil)
	snapshot := cloneRun(e.run)
	e.mu.Unlock()

	e.emit(ev)
	go e.loop(ctx)
	return snapshot, nil
}

// Cancel requests cooperative cancellation. No new node is dispatched after
// the flag is set; in-flight invocations run to natural completion and their
// results are discarded. Blocks until the run reaches CANCELLED and returns
// the updated Run.
//
// Valid from RUNNING or PAUSED; fails with *InvalidTransitionError otherwise.
func (e *Engine) Cancel(ctx context.Context) (Run, error) {
	e.mu.Lock()

	switch e.run.Status {
	case RunRunning:
		e.cancelRequested = true
		for !e.run.Status.Terminal() {
			e.cond.Wait()
		}
		snapshot := cloneRun(e.run)
		e.mu.Unlock()
		return snapshot, nil

	case RunPaused:
		// No scheduling loop is live while paused; finalize directly.
		evs := e.finalizeLocked(RunCancelled, nil)
		snapshot := cloneRun(e.run)
		e.mu.Unlock()
		e.emit(evs...)
		e.cfg.broadcaster.CloseRun(snapshot.ID)
		return snapshot, nil

	default:
		defer e.mu.Unlock()
		return Run{}, &InvalidTransitionError{RunID: e.run.ID, Current: e.run.Status, Requested: "cancel"}
	}
}

// GetRun returns a copy of the Run record.
func (e *Engine) GetRun() Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRun(e.run)
}

// NodeStates returns a copy of every node's state, keyed by node ID.
func (e *Engine) NodeStates() map[string]NodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodeStatesLocked()
}

// Status returns a point-in-time snapshot of run progress. It reads under
// the run mutex but never waits on node execution: the scheduling loop only
// holds the mutex for bookkeeping, never across Executor invocations or
// checkpoint writes.
func (e *Engine) Status() RunStatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := RunStatusReport{
		Status:     e.run.Status,
		NodeStates: e.nodeStatesLocked(),
	}

	var sum float64
	for _, ns := range e.nodeStates {
		sum += ns.Progress
		if ns.Status == NodeRunning {
			report.CurrentNodes = append(report.CurrentNodes, ns.NodeID)
		}
	}
	if n := len(e.nodeStates); n > 0 {
		report.Progress = sum / float64(n)
	}
	return report
}

func (e *Engine) nodeStatesLocked() map[string]NodeState {
	out := make(map[string]NodeState, len(e.nodeStates))
	for id, ns := range e.nodeStates {
		out[id] = cloneNodeState(ns)
	}
	return out
}

// loop is the per-run scheduling goroutine. It runs while the run is RUNNING
// and exits after transitioning to PAUSED or a terminal status. In-flight
// nodes are always drained before the loop exits, so execResults never leak.
func (e *Engine) loop(ctx context.Context) {
	for {
		e.mu.Lock()
		if ctx.Err() != nil {
			e.cancelRequested = true
		}
		evs := e.dispatchLocked(ctx)
		e.mu.Unlock()
		e.emit(evs...)

		e.mu.Lock()
		if len(e.inflight) == 0 {
			switch {
			case e.cancelRequested:
				evs := e.finalizeLocked(RunCancelled, nil)
				runID := e.run.ID
				e.mu.Unlock()
				e.emit(evs...)
				e.cfg.broadcaster.CloseRun(runID)
				return

			case e.failure != nil:
				evs := e.finalizeLocked(RunFailed, e.failure)
				runID := e.run.ID
				e.mu.Unlock()
				e.emit(evs...)
				e.cfg.broadcaster.CloseRun(runID)
				return

			case e.pauseRequested:
				cp := e.snapshotLocked()
				e.mu.Unlock()

				// Persist outside the mutex so status reads stay responsive.
				// Dispatch is still gated by pauseRequested meanwhile.
				saveErr := e.cfg.store.Save(ctx, cp)

				e.mu.Lock()
				if saveErr != nil {
					e.failure = fmt.Errorf("failed to write pause checkpoint: %w", saveErr)
					e.pauseRequested = false
					e.mu.Unlock()
					continue
				}
				if e.cancelRequested {
					// Cancel raced in while the checkpoint was written; let
					// the next iteration finalize CANCELLED instead.
					e.mu.Unlock()
					continue
				}
				evs := e.pauseLocked()
				e.mu.Unlock()
				e.emit(evs...)
				return

			case len(e.ready) == 0:
				evs := e.finalizeLocked(RunCompleted, nil)
				runID := e.run.ID
				e.mu.Unlock()
				e.emit(evs...)
				e.cfg.broadcaster.CloseRun(runID)
				return
			}
		}
		e.mu.Unlock()

		res := <-e.results

		e.mu.Lock()
		evs = e.applyLocked(res)
		e.mu.Unlock()
		e.emit(evs...)
	}
}

// dispatchLocked launches ready nodes up to the parallelism limit. It is the
// single cooperative boundary: pause, cancel and failure all gate here, so
// no new node ever starts after a control flag is observed.
func (e *Engine) dispatchLocked(ctx context.Context) []event.Event {
	var evs []event.Event

	for e.run.Status == RunRunning &&
		!e.pauseRequested && !e.cancelRequested && e.failure == nil &&
		len(e.inflight) < e.cfg.maxParallel && len(e.ready) > 0 {

		nodeID := e.ready[0]
		e.ready = e.ready[1:]

		ns := e.nodeStates[nodeID]
		now := time.Now()
		ns.Status = NodeRunning
		ns.StartedAt = &now
		e.inflight[nodeID] = struct{}{}

		e.cfg.metrics.nodeDispatched()
		e.cfg.metrics.readySize(len(e.ready))
		evs = append(evs, e.eventLocked(event.NodeStarted, nodeID, nil))

		in, errIn := deepCopyMap(e.run.Input)
		out, errOut := deepCopyMap(e.output)
		if errIn != nil || errOut != nil {
			// Cannot snapshot state for the invocation; fail the node without
			// launching it. The results channel has capacity for every node.
			err := errIn
			if err == nil {
				err = errOut
			}
			e.results <- execResult{nodeID: nodeID, err: &NodeExecutionError{NodeID: nodeID, Cause: err}}
			continue
		}

		go func(nodeID string, in, out map[string]any) {
			res, err := invoke(ctx, e.exec, nodeID, in, out, e.cfg.nodeTimeout)
			e.results <- execResult{nodeID: nodeID, output: res, err: err}
		}(nodeID, in, out)
	}

	return evs
}

// applyLocked folds one node result into run state. Results arriving after a
// failure or cancellation was observed are discarded: the node state is
// still recorded, but the output is not merged and successors are not
// promoted.
func (e *Engine) applyLocked(res execResult) []event.Event {
	delete(e.inflight, res.nodeID)

	ns := e.nodeStates[res.nodeID]
	now := time.Now()
	ns.CompletedAt = &now

	var elapsed time.Duration
	if ns.StartedAt != nil {
		elapsed = now.Sub(*ns.StartedAt)
	}

	discard := e.cancelRequested || e.failure != nil || e.run.Status != RunRunning

	if res.err != nil {
		ns.Status = NodeFailed
		ns.Error = res.err.Error()
		e.cfg.metrics.nodeFinished(res.nodeID, NodeFailed, elapsed)

		if !discard {
			e.failure = res.err
		}
		return []event.Event{e.eventLocked(event.NodeFailed, res.nodeID, map[string]any{
			"error": res.err.Error(),
		})}
	}

	ns.Status = NodeCompleted
	ns.Progress = 1.0
	e.cfg.metrics.nodeFinished(res.nodeID, NodeCompleted, elapsed)

	if !discard {
		e.mergeOutputLocked(ns, res.output)
		e.promoteSuccessorsLocked(res.nodeID)
	}

	return []event.Event{e.eventLocked(event.NodeCompleted, res.nodeID, map[string]any{
		"progress": ns.Progress,
	})}
}

// mergeOutputLocked merges a node's output into the run's accumulated
// output, last writer wins per key. The reserved "messages" key is folded
// into the node's message log instead.
func (e *Engine) mergeOutputLocked(ns *NodeState, out map[string]any) {
	for k, v := range out {
		if k == "messages" {
			ns.Messages = append(ns.Messages, toMessages(v)...)
			continue
		}
		e.output[k] = v
	}
}

// promoteSuccessorsLocked adds every successor whose predecessors are all
// COMPLETED to the ready-set.
func (e *Engine) promoteSuccessorsLocked(nodeID string) {
	for _, succ := range e.plan.Successors[nodeID] {
		if e.nodeStates[succ].Status != NodeIdle {
			continue
		}
		allDone := true
		for _, pred := range e.plan.Predecessors[succ] {
			if e.nodeStates[pred].Status != NodeCompleted {
				allDone = false
				break
			}
		}
		if allDone && !e.inReadyLocked(succ) {
			e.ready = append(e.ready, succ)
		}
	}
	e.cfg.metrics.readySize(len(e.ready))
}

func (e *Engine) inReadyLocked(nodeID string) bool {
	for _, id := range e.ready {
		if id == nodeID {
			return true
		}
	}
	return false
}

// snapshotLocked builds the next checkpoint for this run: the Run record,
// every NodeState, the ready-set and the accumulated output, versioned by a
// monotonically increasing sequence.
func (e *Engine) snapshotLocked() checkpoint.Checkpoint[Snapshot] {
	e.seq++

	out, err := deepCopyMap(e.output)
	if err != nil {
		out = e.output
	}

	snap := Snapshot{
		Run:        cloneRun(e.run),
		NodeStates: e.nodeStatesLocked(),
		Ready:      append([]string(nil), e.ready...),
		Output:     out,
	}
	return checkpoint.Checkpoint[Snapshot]{
		RunID:     e.run.ID,
		Sequence:  e.seq,
		State:     snap,
		CreatedAt: time.Now().UTC(),
	}
}

// pauseLocked lands the RUNNING -> PAUSED transition after the checkpoint
// was written, wakes parked Pause callers, and releases the registry claim
// so a later Resume (possibly by another caller) can re-acquire it.
func (e *Engine) pauseLocked() []event.Event {
	now := time.Now()
	e.run.Status = RunPaused
	e.run.PausedAt = &now
	e.pauseRequested = false

	if e.cfg.registry != nil {
		e.cfg.registry.Release(e.run.ID)
	}
	e.cond.Broadcast()
	return []event.Event{e.eventLocked(event.RunPaused, "", nil)}
}

// finalizeLocked lands a terminal transition, marks remaining idle nodes,
// wakes parked control callers and releases the registry claim.
func (e *Engine) finalizeLocked(status RunStatus, cause error) []event.Event {
	now := time.Now()
	e.run.FinishedAt = &now

	var evs []event.Event
	switch status {
	case RunCancelled:
		e.run.Status = RunCancelled
		e.run.CancelledAt = &now
		for _, ns := range e.nodeStates {
			if ns.Status == NodeIdle {
				ns.Status = NodeCancelled
			}
		}
		evs = append(evs, e.eventLocked(event.RunCancelled, "", nil))

	case RunFailed:
		e.run.Status = RunFailed
		if cause != nil {
			e.run.Error = cause.Error()
		}
		evs = append(evs, e.eventLocked(event.RunFailed, "", map[string]any{
			"error": e.run.Error,
		}))

	case RunCompleted:
		e.run.Status = RunCompleted
		if out, err := deepCopyMap(e.output); err == nil {
			e.run.Output = out
		} else {
			e.run.Output = e.output
		}
		evs = append(evs, e.eventLocked(event.RunCompleted, "", map[string]any{
			"output": e.run.Output,
		}))
	}

	e.cfg.metrics.runFinished(status)
	if e.cfg.registry != nil {
		e.cfg.registry.Release(e.run.ID)
	}
	e.cond.Broadcast()
	return evs
}

func (e *Engine) eventLocked(t event.Type, nodeID string, payload map[string]any) event.Event {
	return event.Event{
		RunID:     e.run.ID,
		NodeID:    nodeID,
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// emit publishes events in order to the broadcaster and every sink. Called
// without the run mutex so a slow sink never blocks status reads; ordering
// is preserved because all node events are emitted from the scheduling
// goroutine.
func (e *Engine) emit(evs ...event.Event) {
	for _, ev := range evs {
		e.cfg.broadcaster.Publish(ev.RunID, ev)
		for _, sink := range e.cfg.sinks {
			sink.Write(ev)
		}
	}
}

// toMessages normalizes the reserved "messages" output key: a string or a
// list of strings.
func toMessages(v any) []string {
	switch m := v.(type) {
	case string:
		return []string{m}
	case []string:
		return m
	case []any:
		out := make([]string, 0, len(m))
		for _, item := range m {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
