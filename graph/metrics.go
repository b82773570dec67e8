package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metric collection for run execution.
//
// Metrics exposed (namespace "graphrun"):
//
//   - inflight_nodes (gauge): nodes currently executing across all runs
//     sharing this collector.
//   - ready_depth (gauge): dispatchable nodes waiting in the ready-set.
//   - node_duration_seconds (histogram): node execution duration, labeled by
//     node_id and status (completed/failed).
//   - runs_total (counter): runs reaching a terminal status, labeled by
//     status.
//   - dropped_subscribers_total (counter): slow event subscribers pruned by
//     the broadcaster.
//
// Expose via HTTP for scraping:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *Metrics is valid everywhere in the engine and records nothing.
type Metrics struct {
	inflightNodes      prometheus.Gauge
	readyDepth         prometheus.Gauge
	nodeDuration       *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	droppedSubscribers prometheus.Counter
}

// NewMetrics creates and registers all execution metrics with the provided
// registry (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphrun",
			Name:      "inflight_nodes",
			Help:      "Number of node invocations currently executing.",
		}),
		readyDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphrun",
			Name:      "ready_depth",
			Help:      "Number of dispatchable nodes waiting in the ready-set.",
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphrun",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 60},
		}, []string{"node_id", "status"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "runs_total",
			Help:      "Runs reaching a terminal status.",
		}, []string{"status"}),
		droppedSubscribers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "dropped_subscribers_total",
			Help:      "Slow event subscribers pruned by the broadcaster.",
		}),
	}
}

// SubscriberDropped records a pruned subscriber. Wire it into a broadcaster:
//
//	b := event.NewBroadcaster(event.WithDropHandler(func(string) {
//	    metrics.SubscriberDropped()
//	}))
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.droppedSubscribers.Inc()
}

func (m *Metrics) nodeDispatched() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

func (m *Metrics) nodeFinished(nodeID string, status NodeStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeDuration.WithLabelValues(nodeID, string(status)).Observe(d.Seconds())
}

func (m *Metrics) readySize(n int) {
	if m == nil {
		return
	}
	m.readyDepth.Set(float64(n))
}

func (m *Metrics) runFinished(status RunStatus) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(status)).Inc()
}
