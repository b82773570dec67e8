package graph

import (
	"time"

	"github.com/dshills/graphrun-go/graph/checkpoint"
	"github.com/dshills/graphrun-go/graph/event"
)

// DefaultMaxParallel is the dispatch width used when WithMaxParallel is not
// given: up to this many node invocations execute concurrently within a run.
const DefaultMaxParallel = 4

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	eng, err := graph.NewEngine(plan, exec,
//	    graph.WithMaxParallel(8),
//	    graph.WithNodeTimeout(30*time.Second),
//	    graph.WithCheckpointStore(store),
//	    graph.WithRegistry(registry),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	runID       string
	maxParallel int
	nodeTimeout time.Duration
	store       checkpoint.Store[Snapshot]
	broadcaster *event.Broadcaster
	sinks       []event.Sink
	metrics     *Metrics
	registry    *Registry
}

// WithRunID fixes the run identifier instead of generating one. Useful when
// the caller allocates IDs (e.g. a REST layer creating the resource first).
func WithRunID(id string) Option {
	return func(cfg *engineConfig) error {
		if id == "" {
			return &ValidationError{Reason: "run ID cannot be empty"}
		}
		cfg.runID = id
		return nil
	}
}

// WithMaxParallel sets the maximum number of nodes executing concurrently
// within the run. Values below 1 are rejected.
//
// Tuning guidance:
//   - CPU-bound executors: runtime.NumCPU()
//   - I/O-bound executors (LLM/HTTP calls): 10-50 depending on rate limits
func WithMaxParallel(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &ValidationError{Reason: "max parallel must be at least 1"}
		}
		cfg.maxParallel = n
		return nil
	}
}

// WithNodeTimeout sets a per-node execution timeout. On expiry the node is
// marked FAILED with *NodeTimeoutError and the run fails. Zero (the default)
// means no timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &ValidationError{Reason: "node timeout cannot be negative"}
		}
		cfg.nodeTimeout = d
		return nil
	}
}

// WithCheckpointStore sets the store used for pause checkpoints. Defaults to
// an in-memory store, which is sufficient for pause/resume within one
// process; use checkpoint.SQLiteStore or checkpoint.MySQLStore to survive
// restarts.
func WithCheckpointStore(s checkpoint.Store[Snapshot]) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return &ValidationError{Reason: "checkpoint store cannot be nil"}
		}
		cfg.store = s
		return nil
	}
}

// WithBroadcaster sets the event broadcaster. Defaults to a private
// broadcaster per engine; supply a shared one when a transport layer serves
// subscriptions for many runs.
func WithBroadcaster(b *event.Broadcaster) Option {
	return func(cfg *engineConfig) error {
		if b == nil {
			return &ValidationError{Reason: "broadcaster cannot be nil"}
		}
		cfg.broadcaster = b
		return nil
	}
}

// WithSinks adds passive event sinks (logs, traces) that receive every
// published event alongside broadcaster delivery.
func WithSinks(sinks ...event.Sink) Option {
	return func(cfg *engineConfig) error {
		cfg.sinks = append(cfg.sinks, sinks...)
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithRegistry attaches a run registry. The engine acquires its run ID on
// Start/Resume and releases it on pause or any terminal transition, so at
// most one engine actively schedules a given run.
func WithRegistry(r *Registry) Option {
	return func(cfg *engineConfig) error {
		if r == nil {
			return &ValidationError{Reason: "registry cannot be nil"}
		}
		cfg.registry = r
		return nil
	}
}
