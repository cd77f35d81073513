// Package metrics holds the Prometheus instruments for the balance pipeline.
// Labels never carry account or facility ids; those go to logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	FieldEODBalance     = "eod_balance"
	FieldTransactionSum = "transaction_sum"
	FieldFacilityLimit  = "facility_limit"

	TriggerCount = "count"
	TriggerIdle  = "idle"

	DependencyStore    = "state_store"
	DependencyFacility = "facility_source"
	DependencyDatabase = "transactional_db"
	DependencyDLQ      = "dlq"
)

type Metrics struct {
	Received          *prometheus.CounterVec
	Invalid           *prometheus.CounterVec
	Duplicate         *prometheus.CounterVec
	Stale             *prometheus.CounterVec
	Mismatch          prometheus.Counter
	Updates           *prometheus.CounterVec
	FacilityNotFound  prometheus.Counter
	SyncTriggered     *prometheus.CounterVec
	InvalidEventType  prometheus.Counter
	DependencyFailure *prometheus.CounterVec
	RowsMissing       prometheus.Counter
	BatchSize         prometheus.Histogram
}

// New registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_messages_received_total",
			Help: "Inbound events received, by kind.",
		}, []string{"kind"}),
		Invalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_messages_invalid_total",
			Help: "Events that failed validation and were dead-lettered.",
		}, []string{"kind"}),
		Duplicate: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_messages_duplicate_total",
			Help: "Redelivered events dropped by the dedup record.",
		}, []string{"kind"}),
		Stale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_messages_stale_total",
			Help: "Events older than the account's EOD snapshot.",
		}, []string{"kind"}),
		Mismatch: f.NewCounter(prometheus.CounterOpts{
			Name: "balance_eod_mismatch_total",
			Help: "EOD balances that differed from the recomputed expectation.",
		}),
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_updates_total",
			Help: "State store field updates.",
		}, []string{"field"}),
		FacilityNotFound: f.NewCounter(prometheus.CounterOpts{
			Name: "balance_facility_not_found_total",
			Help: "Facility lookups with no reference row.",
		}),
		SyncTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_sync_window_triggered_total",
			Help: "Per-account flushes, by trigger.",
		}, []string{"trigger"}),
		InvalidEventType: f.NewCounter(prometheus.CounterOpts{
			Name: "balance_invalid_event_type_total",
			Help: "Transactions whose event_type has no signed delta.",
		}),
		DependencyFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_dependency_failures_total",
			Help: "Store, facility source, database or DLQ call failures.",
		}, []string{"dependency"}),
		RowsMissing: f.NewCounter(prometheus.CounterOpts{
			Name: "balance_projection_rows_missing_total",
			Help: "Flushes that matched no account_projection row.",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "balance_sync_batch_size",
			Help:    "Account updates per outbound database call.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
	}
}

// NewNop registers on a private registry. Used by tests and tools that do
// not expose /metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
