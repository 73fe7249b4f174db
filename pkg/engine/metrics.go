package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates engine counters. A nil *Metrics disables collection;
// every method is nil-safe so callers never branch.
type Metrics struct {
	nodesTotal      *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	retriesTotal    prometheus.Counter
	instancesTotal  *prometheus.CounterVec
	activeInstances prometheus.Gauge
}

// NewMetrics registers the engine metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowstack",
			Name:      "nodes_total",
			Help:      "Node executions by kind and terminal status.",
		}, []string{"kind", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowstack",
			Name:      "node_duration_seconds",
			Help:      "Node execution wall time by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
		retriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowstack",
			Name:      "node_retries_total",
			Help:      "Retry attempts across all nodes.",
		}),
		instancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowstack",
			Name:      "instances_total",
			Help:      "Finished instances by terminal status.",
		}, []string{"status"}),
		activeInstances: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowstack",
			Name:      "active_instances",
			Help:      "Instances currently executing.",
		}),
	}
}

func (m *Metrics) observeNode(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(kind, status).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *Metrics) instanceStarted() {
	if m == nil {
		return
	}
	m.activeInstances.Inc()
}

func (m *Metrics) instanceFinished(status Status) {
	if m == nil {
		return
	}
	m.activeInstances.Dec()
	m.instancesTotal.WithLabelValues(string(status)).Inc()
}
