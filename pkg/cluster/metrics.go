package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the coordinator's prometheus collectors.
type Metrics struct {
	Cycles        prometheus.Counter
	CycleFailures prometheus.Counter
	CycleDuration prometheus.Histogram
	Evictions     prometheus.Counter
	LiveNodes     prometheus.Gauge
	Routes        prometheus.Gauge
	Assignments   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and embedders without a
// metrics endpoint want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterdoc",
			Name:      "heartbeat_cycles_total",
			Help:      "Heartbeat cycles that persisted successfully.",
		}),
		CycleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterdoc",
			Name:      "heartbeat_cycle_failures_total",
			Help:      "Heartbeat cycles aborted by a store error.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clusterdoc",
			Name:      "heartbeat_cycle_seconds",
			Help:      "Duration of heartbeat cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterdoc",
			Name:      "evicted_nodes_total",
			Help:      "Nodes dropped for missing heartbeats.",
		}),
		LiveNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "clusterdoc",
			Name:      "live_nodes",
			Help:      "Nodes in the registry as last persisted by this node.",
		}),
		Routes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "clusterdoc",
			Name:      "routes",
			Help:      "Entries in the local routing table cache.",
		}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clusterdoc",
			Name:      "assignment_ops_total",
			Help:      "Assign and unassign calls by outcome.",
		}, []string{"op", "result"}),
	}
}
