package processing

import (
	"context"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/state"
)

// Reconciler applies accepted EOD snapshots.
//
// New day: balance and timestamp replaced, transaction_sum reset to 0.
// Same day, different balance: balance replaced, transaction_sum kept.
// Either way the dedup record is written and the facility limit re-resolved.
type Reconciler struct {
	store    *state.AccountStore
	resolver *FacilityResolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewReconciler(store *state.AccountStore, resolver *FacilityResolver, m *metrics.Metrics, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: store, resolver: resolver, metrics: m, now: now}
}

// Apply writes the EOD and refreshes the facility limit. dirty reports
// whether any account field was written, even when err is non-nil.
func (r *Reconciler) Apply(ctx context.Context, ev *v1.EodBalanceEvent, d EODDecision) (dirty bool, err error) {
	if d.Changed {
		if err := r.store.ApplyEOD(ctx, ev.AccountID, ev.Balance, ev.Timestamp, d.NewDay); err != nil {
			return false, dependency(metrics.DependencyStore, err)
		}
		dirty = true
		r.metrics.Updates.WithLabelValues(metrics.FieldEODBalance).Inc()
		if d.NewDay {
			r.metrics.Updates.WithLabelValues(metrics.FieldTransactionSum).Inc()
		}
	}

	if err := r.store.MarkEOD(ctx, ev.MessageID, r.now()); err != nil {
		return dirty, dependency(metrics.DependencyStore, err)
	}

	limit, err := r.resolver.Resolve(ctx, ev.FacilityID)
	if err != nil {
		return dirty, dependency(metrics.DependencyFacility, err)
	}
	if err := r.store.SetFacilityLimit(ctx, ev.AccountID, limit); err != nil {
		return dirty, dependency(metrics.DependencyStore, err)
	}
	r.metrics.Updates.WithLabelValues(metrics.FieldFacilityLimit).Inc()
	return true, nil
}
