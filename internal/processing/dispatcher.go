package processing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/partition"
	"golang.org/x/sync/errgroup"
)

// ErrDispatcherStopped is returned by Submit once Run has returned.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Processor handles one message on behalf of a worker.
type Processor interface {
	Process(ctx context.Context, w Window, msg Message) Outcome
}

// WorkerWindow is the sync window a single worker owns.
type WorkerWindow interface {
	Window
	Expire(ctx context.Context) int
	FlushAll(ctx context.Context) int
	NextDeadline() (time.Time, bool)
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
}

type job struct {
	msg  Message
	done func(Outcome)
}

// Dispatcher runs a fixed pool of workers. Worker i owns every partition p
// with p % Workers == i, so one account is only ever handled by one worker,
// in submission order.
type Dispatcher struct {
	processor Processor
	newWindow func() WorkerWindow
	queues    []chan job
	stopped   chan struct{}
}

func NewDispatcher(processor Processor, newWindow func() WorkerWindow, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	queues := make([]chan job, opts.Workers)
	for i := range queues {
		queues[i] = make(chan job, opts.QueueSize)
	}
	return &Dispatcher{
		processor: processor,
		newWindow: newWindow,
		queues:    queues,
		stopped:   make(chan struct{}),
	}
}

// WorkerFor returns the index of the worker that owns accountID.
func (d *Dispatcher) WorkerFor(accountID string) int {
	return partition.Owner(partition.For(accountID), len(d.queues))
}

// Submit enqueues msg on its owner's queue. done is called from the worker
// goroutine when processing finishes; it is never called for messages still
// queued at shutdown.
func (d *Dispatcher) Submit(ctx context.Context, msg Message, done func(Outcome)) error {
	j := job{msg: msg, done: done}
	q := d.queues[d.WorkerFor(msg.AccountID())]

	select {
	case q <- j:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do submits msg and waits for its outcome. Messages still queued when the
// workers stop are never processed and Do returns ErrDispatcherStopped.
func (d *Dispatcher) Do(ctx context.Context, msg Message) (Outcome, error) {
	result := make(chan Outcome, 1)
	if err := d.Submit(ctx, msg, func(o Outcome) { result <- o }); err != nil {
		return Outcome{}, err
	}

	select {
	case o := <-result:
		return o, nil
	case <-d.stopped:
		select {
		case o := <-result:
			return o, nil
		default:
			return Outcome{}, ErrDispatcherStopped
		}
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Run blocks until ctx is cancelled and every worker has flushed its
// dirty accounts.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)

	slog.Info("[Dispatcher] Starting workers",
		"workers", len(d.queues),
		"partitions", partition.Count)

	g, gctx := errgroup.WithContext(ctx)
	for i := range d.queues {
		i := i
		g.Go(func() error {
			d.work(gctx, i)
			return nil
		})
	}
	err := g.Wait()

	slog.Info("[Dispatcher] All workers stopped")
	return err
}

// work runs worker i. Cancelling ctx stops dequeuing; the message in hand
// still runs to completion under a detached context, since store and
// facility calls carry their own timeouts. Queued messages are left
// unacknowledged so the transport redelivers them.
func (d *Dispatcher) work(ctx context.Context, i int) {
	w := d.newWindow()
	queue := d.queues[i]
	runCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			d.stop(w, i, len(queue))
			return
		}

		var timerC <-chan time.Time
		if next, ok := w.NextDeadline(); ok {
			timer.Reset(time.Until(next))
			timerC = timer.C
		}

		select {
		case j := <-queue:
			if ctx.Err() != nil {
				d.stop(w, i, len(queue)+1)
				return
			}
			d.handle(runCtx, w, j)
		case <-timerC:
			w.Expire(runCtx)
		case <-ctx.Done():
			d.stop(w, i, len(queue))
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, w WorkerWindow, j job) {
	out := d.processor.Process(ctx, w, j.msg)
	if errors.Is(out.Err, context.Canceled) {
		// Not a dependency failure; leave the message for redelivery.
		slog.Warn("[Dispatcher] Processing cancelled, message left unacknowledged",
			"account_id", out.AccountID,
			"message_id", out.MessageID)
		return
	}
	if j.done != nil {
		j.done(out)
	}
}

func (d *Dispatcher) stop(w WorkerWindow, i, unprocessed int) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := w.FlushAll(shutdownCtx)
	slog.Info("[Dispatcher] Worker stopped",
		"worker", i,
		"flushed_accounts", n,
		"unprocessed", unprocessed)
}
