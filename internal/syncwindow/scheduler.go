// Package syncwindow decides when an account's real-time figures are pushed
// to the transactional database, and batches those pushes.
package syncwindow

import (
	"context"
	"log/slog"
	"time"

	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/state"
)

// Flusher propagates one account's current figures.
type Flusher interface {
	Flush(ctx context.Context, accountID string) error
}

type Options struct {
	Window         time.Duration
	CountThreshold int64
	RetryAfter     time.Duration
	Now            func() time.Time
}

func (o Options) normalized() Options {
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.CountThreshold <= 0 {
		o.CountThreshold = 1000
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = o.Window
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Scheduler is the per-worker sync window. It owns the rolling counter in
// the state store and an in-process idle deadline per dirty account.
// Only the worker that owns the account's partition may call it.
type Scheduler struct {
	store     *state.AccountStore
	flusher   Flusher
	metrics   *metrics.Metrics
	deadlines *Deadlines
	opts      Options
}

func NewScheduler(store *state.AccountStore, flusher Flusher, m *metrics.Metrics, opts Options) *Scheduler {
	return &Scheduler{
		store:     store,
		flusher:   flusher,
		metrics:   m,
		deadlines: NewDeadlines(),
		opts:      opts.normalized(),
	}
}

// ObserveTransaction runs after a transaction delta has been applied.
// No counter: start one at 0. Counter above threshold: flush now. Otherwise
// increment and slide the window. Only counter I/O errors are returned.
func (s *Scheduler) ObserveTransaction(ctx context.Context, accountID string) error {
	now := s.opts.Now()

	n, ok, err := s.store.SyncCounter(ctx, accountID)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		if err := s.store.ResetSyncCounter(ctx, accountID, s.opts.Window); err != nil {
			return err
		}
		s.deadlines.Arm(accountID, now.Add(s.opts.Window))
	case n > s.opts.CountThreshold:
		// flush logs and re-arms on failure itself.
		_ = s.flush(ctx, accountID, metrics.TriggerCount)
	default:
		if _, err := s.store.IncrSyncCounter(ctx, accountID, s.opts.Window); err != nil {
			return err
		}
		s.deadlines.Arm(accountID, now.Add(s.opts.Window))
	}
	return nil
}

// ObserveEOD marks the account dirty without touching the counter.
func (s *Scheduler) ObserveEOD(accountID string) {
	if s.deadlines.Armed(accountID) {
		return
	}
	s.deadlines.Arm(accountID, s.opts.Now().Add(s.opts.Window))
}

// Expire flushes every account whose idle deadline has passed and returns
// how many flushes were attempted.
func (s *Scheduler) Expire(ctx context.Context) int {
	due := s.deadlines.PopDue(s.opts.Now())
	for _, accountID := range due {
		_ = s.flush(ctx, accountID, metrics.TriggerIdle)
	}
	return len(due)
}

// FlushAll flushes every armed account now. Workers call it on shutdown so
// dirty accounts are not left waiting on a deadline that dies with the process.
func (s *Scheduler) FlushAll(ctx context.Context) int {
	all := s.deadlines.PopAll()
	for _, accountID := range all {
		if err := s.flush(ctx, accountID, metrics.TriggerIdle); err != nil {
			s.deadlines.Clear(accountID)
		}
	}
	return len(all)
}

// NextDeadline is when Expire next has work.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	return s.deadlines.Next()
}

// Pending reports armed accounts.
func (s *Scheduler) Pending() int {
	return s.deadlines.Len()
}

// flush resets the counter and clears the deadline only on success.
// On failure the counter is kept and the account retried after RetryAfter.
func (s *Scheduler) flush(ctx context.Context, accountID, trigger string) error {
	s.metrics.SyncTriggered.WithLabelValues(trigger).Inc()

	if err := s.flusher.Flush(ctx, accountID); err != nil {
		slog.ErrorContext(ctx, "[SyncWindow] Flush failed, will retry",
			"account_id", accountID,
			"trigger", trigger,
			"retry_after", s.opts.RetryAfter,
			"error", err)
		s.deadlines.Arm(accountID, s.opts.Now().Add(s.opts.RetryAfter))
		return err
	}

	if err := s.store.ResetSyncCounter(ctx, accountID, s.opts.Window); err != nil {
		slog.WarnContext(ctx, "[SyncWindow] Counter reset failed after flush",
			"account_id", accountID,
			"error", err)
	}
	s.deadlines.Clear(accountID)

	slog.DebugContext(ctx, "[SyncWindow] Account flushed",
		"account_id", accountID,
		"trigger", trigger)
	return nil
}
