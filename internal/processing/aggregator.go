package processing

import (
	"context"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/state"
)

// Aggregator folds accepted transaction deltas into transaction_sum.
type Aggregator struct {
	store             *state.AccountStore
	metrics           *metrics.Metrics
	dedupTransactions bool
	now               func() time.Time
}

func NewAggregator(store *state.AccountStore, m *metrics.Metrics, dedupTransactions bool, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, metrics: m, dedupTransactions: dedupTransactions, now: now}
}

// Apply returns *balance.ErrUnknownEventType without touching state when the
// verb has no sign. applied reports whether the delta reached
// transaction_sum, even when a later step failed.
func (a *Aggregator) Apply(ctx context.Context, ev *v1.TransactionEvent) (applied bool, err error) {
	delta, err := balance.Delta(ev.EventType, ev.Amount)
	if err != nil {
		return false, err
	}

	if _, err := a.store.AddTransaction(ctx, ev.AccountID, delta); err != nil {
		return false, dependency(metrics.DependencyStore, err)
	}
	a.metrics.Updates.WithLabelValues(metrics.FieldTransactionSum).Inc()

	if a.dedupTransactions {
		if err := a.store.MarkTransaction(ctx, ev.MessageID, a.now()); err != nil {
			return true, dependency(metrics.DependencyStore, err)
		}
	}
	return true, nil
}
