package graph

import (
	"context"
	"fmt"
	"time"
)

// Executor supplies node behavior. The engine invokes it once per dispatched
// node, outside the run mutex, so implementations may block on I/O or perform
// slow work (LLM calls, HTTP requests, subprocesses).
//
// Parameters:
//   - nodeID: the node being executed
//   - input: the run's caller-supplied input (a detached copy)
//   - output: the run's accumulated output at dispatch time (a detached copy)
//
// The returned map is merged into the run's accumulated output on success,
// last writer wins per key. The reserved "messages" key is folded into
// NodeState.Messages instead of the output (string or []string values).
//
// A returned error marks the node FAILED and fails the run. Implementations
// own their retry policy; the engine never retries.
type Executor interface {
	Execute(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error) {
	return f(ctx, nodeID, input, output)
}

// ExecutorMap routes execution by node ID. Dispatching a node with no entry
// is an execution error (the run fails; the engine stays up).
type ExecutorMap map[string]ExecutorFunc

// Execute implements Executor.
func (m ExecutorMap) Execute(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error) {
	fn, ok := m[nodeID]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node %s", nodeID)
	}
	return fn(ctx, nodeID, input, output)
}

// execResult carries one node invocation outcome back to the scheduling loop.
type execResult struct {
	nodeID string
	output map[string]any
	err    error
}

// invoke runs the executor for one node with panic recovery and optional
// timeout enforcement. Errors are normalized at this boundary: a panic or a
// plain error becomes *NodeExecutionError, a timeout becomes
// *NodeTimeoutError. The engine never lets a node take the process down.
func invoke(ctx context.Context, exec Executor, nodeID string, input, output map[string]any, timeout time.Duration) (out map[string]any, err error) {
	run := func(ctx context.Context) (res map[string]any, resErr error) {
		defer func() {
			if r := recover(); r != nil {
				resErr = &NodeExecutionError{NodeID: nodeID, Cause: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		res, resErr = exec.Execute(ctx, nodeID, input, output)
		if resErr != nil {
			resErr = &NodeExecutionError{NodeID: nodeID, Cause: resErr}
		}
		return res, resErr
	}

	if timeout <= 0 {
		return run(ctx)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type done struct {
		out map[string]any
		err error
	}
	// Buffered so a late executor return after timeout does not leak the
	// goroutine; its result is discarded.
	ch := make(chan done, 1)
	go func() {
		o, e := run(execCtx)
		ch <- done{out: o, err: e}
	}()

	select {
	case d := <-ch:
		return d.out, d.err
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, &NodeTimeoutError{NodeID: nodeID, Timeout: timeout}
		}
		return nil, &NodeExecutionError{NodeID: nodeID, Cause: execCtx.Err()}
	}
}
