// Package metrics pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the aggregator's Prometheus instruments.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	Validation        *prometheus.CounterVec
	RecoveryAttempts  *prometheus.CounterVec
	StatePublishes    prometheus.Counter
	NodesEvicted      prometheus.Counter
	NodesActive       prometheus.Gauge
	NodesTotal        prometheus.Gauge
	QueueDepth        prometheus.Gauge
}

// Drop reasons for agg_messages_dropped_total.
const (
	DropBadTopic   = "bad_topic"
	DropBadJSON    = "bad_json"
	DropCapacity   = "node_cap"
	DropStructural = "structural"
	DropQueueFull  = "queue_full"
)

// Recovery outcomes for agg_recovery_attempts_total.
const (
	RecoveryRecovered  = "recovered"
	RecoverySuppressed = "suppressed"
)

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agg_messages_processed_total",
			Help: "Messages successfully routed into consolidated state.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agg_messages_dropped_total",
			Help: "Messages dropped before folding, by reason.",
		}, []string{"reason"}),
		Validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agg_validation_outcomes_total",
			Help: "Validation outcomes by domain and quality.",
		}, []string{"domain", "quality"}),
		RecoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agg_recovery_attempts_total",
			Help: "Recovery manager invocations by domain and outcome.",
		}, []string{"domain", "outcome"}),
		StatePublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agg_state_publishes_total",
			Help: "Consolidated state snapshots published.",
		}),
		NodesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agg_nodes_evicted_total",
			Help: "Nodes removed by the periodic eviction sweep.",
		}),
		NodesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agg_nodes_active",
			Help: "Nodes currently classified active.",
		}),
		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agg_nodes_total",
			Help: "Nodes currently registered.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agg_inbound_queue_depth",
			Help: "Messages waiting in the inbound queue.",
		}),
	}

	reg.MustRegister(
		m.MessagesProcessed,
		m.MessagesDropped,
		m.Validation,
		m.RecoveryAttempts,
		m.StatePublishes,
		m.NodesEvicted,
		m.NodesActive,
		m.NodesTotal,
		m.QueueDepth,
	)

	return m
}
