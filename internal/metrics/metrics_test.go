package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNilMetrics verifies that a nil *Metrics can be used everywhere.
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Write("shard1", true)
		m.WriteFailed("unavailable")
		m.Copied("shard1", "replica1", 3)
		m.PairSkipped("shard1", "replica1")
		m.Tick(0.1)
		m.IndexAttempt()
		m.IndexResult(false)
		m.Pending(1)
		m.ReadSkipped("replica1")
		m.SearchFailed()
	})
}

// TestMetricsRecord checks that the helpers feed the right collectors.
func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Write("shard1", false)
	m.Write("shard2", true)
	m.WriteFailed("unavailable")
	m.Copied("shard1", "replica1", 4)
	m.Copied("shard1", "replica1", 0)
	m.PairSkipped("shard2", "replica2")
	m.IndexAttempt()
	m.IndexAttempt()
	m.IndexResult(true)
	m.IndexResult(false)
	m.ReadSkipped("replica2")
	m.SearchFailed()
	m.Pending(1)
	m.Pending(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Writes.WithLabelValues("shard1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Writes.WithLabelValues("shard2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failovers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteFailures.WithLabelValues("unavailable")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Replicated.WithLabelValues("shard1", "replica1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicaSkips.WithLabelValues("shard2", "replica2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Indexed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexAbandoned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadSkips.WithLabelValues("replica2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingPublish))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
