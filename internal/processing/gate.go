package processing

import (
	"context"
	"fmt"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/state"
	"github.com/shopspring/decimal"
)

// EODDecision is the gate's verdict on an EOD event.
type EODDecision struct {
	Tag Tag // Accepted, Duplicate or Stale

	// NewDay is true when the snapshot supersedes the stored one (or is the
	// first). False means a same-day correction.
	NewDay bool

	// Changed is false for a same-day re-send with an identical balance.
	Changed bool

	// Mismatch is set when the balance differs from the recomputed expectation.
	Mismatch bool
	Expected decimal.Decimal

	Previous balance.AccountState
}

// Gate rejects redeliveries and events older than the account's snapshot.
type Gate struct {
	store             *state.AccountStore
	dedupTransactions bool
}

func NewGate(store *state.AccountStore, dedupTransactions bool) *Gate {
	return &Gate{store: store, dedupTransactions: dedupTransactions}
}

func (g *Gate) CheckEOD(ctx context.Context, ev *v1.EodBalanceEvent) (EODDecision, error) {
	seen, err := g.store.SeenEOD(ctx, ev.MessageID)
	if err != nil {
		return EODDecision{}, fmt.Errorf("gate: %w", err)
	}
	if seen {
		return EODDecision{Tag: Duplicate}, nil
	}

	prev, _, err := g.store.Load(ctx, ev.AccountID)
	if err != nil {
		return EODDecision{}, fmt.Errorf("gate: %w", err)
	}

	d := EODDecision{Tag: Accepted, Previous: prev}
	switch {
	case !prev.HasSnapshot():
		d.NewDay = true
		d.Changed = true
		return d, nil
	case ev.Timestamp.Before(prev.EODSnapshotAt):
		d.Tag = Stale
		return d, nil
	case ev.Timestamp.After(prev.EODSnapshotAt):
		d.NewDay = true
		d.Changed = true
		d.Expected = balance.CurrentBalance(prev.EODBalance, prev.TransactionSum)
	default:
		d.Changed = !ev.Balance.Equal(prev.EODBalance)
		d.Expected = prev.EODBalance
	}
	d.Mismatch = !ev.Balance.Equal(d.Expected)
	return d, nil
}

// CheckTransaction returns Accepted, Duplicate or Stale.
func (g *Gate) CheckTransaction(ctx context.Context, ev *v1.TransactionEvent) (Tag, error) {
	if g.dedupTransactions {
		seen, err := g.store.SeenTransaction(ctx, ev.MessageID)
		if err != nil {
			return Failed, fmt.Errorf("gate: %w", err)
		}
		if seen {
			return Duplicate, nil
		}
	}

	snapshotAt, ok, err := g.store.SnapshotTimestamp(ctx, ev.AccountID)
	if err != nil {
		return Failed, fmt.Errorf("gate: %w", err)
	}
	if ok && ev.Timestamp.Before(snapshotAt) {
		return Stale, nil
	}
	return Accepted, nil
}
