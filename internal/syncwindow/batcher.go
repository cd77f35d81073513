package syncwindow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrBatcherStopped is returned by Submit once Run has returned.
var ErrBatcherStopped = errors.New("batcher stopped")

type BatcherOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	RatePerSecond float64
	Burst         int
}

func (o BatcherOptions) normalized() BatcherOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 250 * time.Millisecond
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

type request struct {
	update balance.Realtime
	result chan error
}

// pendingBatch coalesces updates per account, last write wins. Every
// waiter of a coalesced account gets the outcome of the write that carried it.
type pendingBatch struct {
	order   []string
	updates map[string]balance.Realtime
	waiters map[string][]chan error
}

func newPendingBatch() *pendingBatch {
	return &pendingBatch{
		updates: make(map[string]balance.Realtime),
		waiters: make(map[string][]chan error),
	}
}

func (p *pendingBatch) add(req request) {
	id := req.update.AccountID
	if _, ok := p.updates[id]; !ok {
		p.order = append(p.order, id)
	}
	p.updates[id] = req.update
	p.waiters[id] = append(p.waiters[id], req.result)
}

func (p *pendingBatch) len() int {
	return len(p.order)
}

func (p *pendingBatch) take() ([]balance.Realtime, map[string][]chan error) {
	updates := make([]balance.Realtime, 0, len(p.order))
	for _, id := range p.order {
		updates = append(updates, p.updates[id])
	}
	waiters := p.waiters

	p.order = nil
	p.updates = make(map[string]balance.Realtime)
	p.waiters = make(map[string][]chan error)
	return updates, waiters
}

// Batcher funnels per-account flushes from every worker into bounded,
// rate-limited UPDATE transactions.
type Batcher struct {
	store    storage.ProjectionStore
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	opts     BatcherOptions
	requests chan request
	stopped  chan struct{}
}

var _ Submitter = (*Batcher)(nil)

func NewBatcher(store storage.ProjectionStore, m *metrics.Metrics, opts BatcherOptions) *Batcher {
	opts = opts.normalized()
	return &Batcher{
		store:    store,
		metrics:  m,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:     opts,
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Submit enqueues one update and waits for the batch that carries it.
func (b *Batcher) Submit(ctx context.Context, update balance.Realtime) error {
	req := request{update: update, result: make(chan error, 1)}

	select {
	case b.requests <- req:
	case <-b.stopped:
		return ErrBatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run batches until ctx is cancelled, then drains what is pending.
func (b *Batcher) Run(ctx context.Context) error {
	defer close(b.stopped)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	slog.Info("[Batcher] Starting",
		"batch_size", b.opts.BatchSize,
		"flush_interval", b.opts.FlushInterval,
		"rate_per_second", b.opts.RatePerSecond)

	pending := newPendingBatch()
	for {
		select {
		case req := <-b.requests:
			pending.add(req)
			if pending.len() >= b.opts.BatchSize {
				b.flush(ctx, pending)
			}
		case <-ticker.C:
			b.flush(ctx, pending)
		case <-ctx.Done():
			slog.Info("[Batcher] Stopping (context cancelled)", "pending", pending.len())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			b.flush(shutdownCtx, pending)
			slog.Info("[Batcher] Final drain complete")
			return nil
		}
	}
}

func (b *Batcher) flush(ctx context.Context, pending *pendingBatch) {
	if pending.len() == 0 {
		return
	}
	updates, waiters := pending.take()

	err := b.write(ctx, updates)
	for _, ws := range waiters {
		for _, w := range ws {
			w <- err
		}
	}
}

func (b *Batcher) write(ctx context.Context, updates []balance.Realtime) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	b.metrics.BatchSize.Observe(float64(len(updates)))

	missing, err := b.store.UpdateRealtimeBalances(ctx, updates)
	if err != nil {
		b.metrics.DependencyFailure.WithLabelValues(metrics.DependencyDatabase).Inc()
		slog.ErrorContext(ctx, "[Batcher] Batch update failed",
			"batch_size", len(updates),
			"error", err)
		return err
	}

	for _, accountID := range missing {
		b.metrics.RowsMissing.Inc()
		slog.ErrorContext(ctx, "[Batcher] No projection row for account",
			"account_id", accountID)
	}

	slog.Debug("[Batcher] Batch written",
		"batch_size", len(updates),
		"missing_rows", len(missing))
	return nil
}
