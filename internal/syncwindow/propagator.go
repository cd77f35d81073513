package syncwindow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/state"
)

// Submitter accepts one account update and returns once it is durable.
type Submitter interface {
	Submit(ctx context.Context, update balance.Realtime) error
}

// Propagator reads the account's state, runs the calculator and hands the
// result to the batcher.
type Propagator struct {
	store     *state.AccountStore
	submitter Submitter
	now       func() time.Time
}

var _ Flusher = (*Propagator)(nil)

func NewPropagator(store *state.AccountStore, submitter Submitter) *Propagator {
	return &Propagator{store: store, submitter: submitter, now: time.Now}
}

func (p *Propagator) Flush(ctx context.Context, accountID string) error {
	st, found, err := p.store.Load(ctx, accountID)
	if err != nil {
		return fmt.Errorf("propagate %s: %w", accountID, err)
	}
	if !found {
		slog.DebugContext(ctx, "[SyncWindow] No state left to propagate", "account_id", accountID)
		return nil
	}

	if err := p.submitter.Submit(ctx, balance.Compute(st, p.now())); err != nil {
		return fmt.Errorf("propagate %s: %w", accountID, err)
	}
	return nil
}
