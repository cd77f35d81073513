package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Received.WithLabelValues("eod").Inc()
	m.Stale.WithLabelValues("transaction").Add(2)
	m.SyncTriggered.WithLabelValues(TriggerIdle).Inc()
	m.BatchSize.Observe(3)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Received.WithLabelValues("eod")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Stale.WithLabelValues("transaction")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SyncTriggered.WithLabelValues(TriggerIdle)))

	count, err := testutil.GatherAndCount(reg, "balance_sync_batch_size")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
