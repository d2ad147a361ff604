// Package metrics defines the Prometheus collectors exported by shardsync.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardsync"

// Metrics groups the collectors for every component.
type Metrics struct {
	Writes         *prometheus.CounterVec
	Failovers      prometheus.Counter
	WriteFailures  *prometheus.CounterVec
	Replicated     *prometheus.CounterVec
	ReplicaSkips   *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	IndexAttempts  prometheus.Counter
	IndexAbandoned prometheus.Counter
	Indexed        prometheus.Counter
	ReadSkips      *prometheus.CounterVec
	SearchFailures prometheus.Counter
	PendingPublish prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "writes_total",
			Help:      "Records committed, by shard.",
		}, []string{"shard"}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "failovers_total",
			Help:      "Writes redirected to the alternate shard.",
		}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "write_failures_total",
			Help:      "Writes that persisted nothing, by reason.",
		}, []string{"reason"}),
		Replicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "records_copied_total",
			Help:      "Records copied from a shard into its replica.",
		}, []string{"shard", "replica"}),
		ReplicaSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "pair_skips_total",
			Help:      "Shard/replica pairs skipped in a tick.",
		}, []string{"shard", "replica"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one replication tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		IndexAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_attempts_total",
			Help:      "Calls made to index a document.",
		}),
		IndexAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_abandoned_total",
			Help:      "Documents dropped after the retry budget ran out.",
		}),
		Indexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "indexed_total",
			Help:      "Documents indexed successfully.",
		}),
		ReadSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "replica_skips_total",
			Help:      "Replicas left out of a read because they could not be queried.",
		}, []string{"replica"}),
		SearchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "query_failures_total",
			Help:      "Search queries that failed on the engine side.",
		}),
		PendingPublish: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "pending_publications",
			Help:      "Documents currently being propagated.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Writes, m.Failovers, m.WriteFailures,
			m.Replicated, m.ReplicaSkips, m.TickDuration,
			m.IndexAttempts, m.IndexAbandoned, m.Indexed,
			m.ReadSkips, m.SearchFailures, m.PendingPublish,
		)
	}
	return m
}

// Write records a committed write and whether it failed over.
func (m *Metrics) Write(shard string, failover bool) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(shard).Inc()
	if failover {
		m.Failovers.Inc()
	}
}

// WriteFailed records a write that persisted nothing.
func (m *Metrics) WriteFailed(reason string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(reason).Inc()
}

// Copied records n records copied for a pair.
func (m *Metrics) Copied(shard, replica string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Replicated.WithLabelValues(shard, replica).Add(float64(n))
}

// PairSkipped records a pair left out of a tick.
func (m *Metrics) PairSkipped(shard, replica string) {
	if m == nil {
		return
	}
	m.ReplicaSkips.WithLabelValues(shard, replica).Inc()
}

// Tick records the duration of one replication tick in seconds.
func (m *Metrics) Tick(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}

// IndexAttempt records one call to the search engine's index API.
func (m *Metrics) IndexAttempt() {
	if m == nil {
		return
	}
	m.IndexAttempts.Inc()
}

// IndexResult records the final outcome of a publication.
func (m *Metrics) IndexResult(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Indexed.Inc()
	} else {
		m.IndexAbandoned.Inc()
	}
}

// Pending adjusts the in-flight publication gauge.
func (m *Metrics) Pending(delta float64) {
	if m == nil {
		return
	}
	m.PendingPublish.Add(delta)
}

// ReadSkipped records a replica left out of a read.
func (m *Metrics) ReadSkipped(replica string) {
	if m == nil {
		return
	}
	m.ReadSkips.WithLabelValues(replica).Inc()
}

// SearchFailed records a failed search query.
func (m *Metrics) SearchFailed() {
	if m == nil {
		return
	}
	m.SearchFailures.Inc()
}
