// Package processing turns inbound balance events into account state:
// validation, dedup and ordering, EOD reconciliation, transaction
// aggregation, and the partition-affine worker pool that runs them.
package processing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/core/balance"
	coreerrors "github.com/aevon-lab/balance-stream/internal/core/errors"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/state"
	"github.com/aevon-lab/balance-stream/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Window is the per-worker sync window the pipeline reports accepted
// mutations to.
type Window interface {
	ObserveTransaction(ctx context.Context, accountID string) error
	ObserveEOD(accountID string)
}

type PipelineOptions struct {
	FacilityTimeout   time.Duration
	DedupTransactions bool
	// DeadLetterTimeout bounds one DLQ publish. Zero means 5s.
	DeadLetterTimeout time.Duration
	Now               func() time.Time
}

// Pipeline runs one message through validate → gate → apply. It holds no
// per-account state; callers serialize messages per account.
type Pipeline struct {
	gate       *Gate
	reconciler *Reconciler
	aggregator *Aggregator
	dlq        storage.DeadLetterSink
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	dlqTimeout time.Duration
	now        func() time.Time
}

func NewPipeline(
	store *state.AccountStore,
	facilities storage.FacilitySource,
	dlq storage.DeadLetterSink,
	m *metrics.Metrics,
	opts PipelineOptions,
) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dlqTimeout := opts.DeadLetterTimeout
	if dlqTimeout <= 0 {
		dlqTimeout = 5 * time.Second
	}
	resolver := NewFacilityResolver(facilities, opts.FacilityTimeout)
	return &Pipeline{
		gate:       NewGate(store, opts.DedupTransactions),
		reconciler: NewReconciler(store, resolver, m, now),
		aggregator: NewAggregator(store, m, opts.DedupTransactions, now),
		dlq:        dlq,
		metrics:    m,
		tracer:     tracing.Tracer(),
		dlqTimeout: dlqTimeout,
		now:        now,
	}
}

// Process never returns an error; every failure is folded into the Outcome
// and its side effects (metrics, DLQ, logs) have already happened.
func (p *Pipeline) Process(ctx context.Context, w Window, msg Message) Outcome {
	ctx, span := p.tracer.Start(ctx, "balance.process",
		trace.WithAttributes(
			attribute.String("balance.kind", string(msg.Kind)),
			attribute.String("messaging.source", msg.Source.Topic),
		))
	defer span.End()

	p.metrics.Received.WithLabelValues(string(msg.Kind)).Inc()

	out := p.process(ctx, w, msg)
	p.record(ctx, msg, out)

	span.SetAttributes(
		attribute.String("balance.account_id", out.AccountID),
		attribute.String("balance.outcome", out.Tag.String()),
	)
	if out.Tag == Failed {
		span.SetStatus(codes.Error, out.String())
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, w Window, msg Message) Outcome {
	ev, err := Validate(msg)
	if err != nil {
		return Outcome{
			Tag:       Invalid,
			Kind:      msg.Kind,
			AccountID: msg.AccountID(),
			Reason:    coreerrors.ReasonInvalidMessage,
			Err:       err,
		}
	}

	if ev.EOD != nil {
		return p.processEOD(ctx, w, ev.EOD)
	}
	return p.processTransaction(ctx, w, ev.Transaction)
}

func (p *Pipeline) processEOD(ctx context.Context, w Window, ev *v1.EodBalanceEvent) Outcome {
	out := Outcome{Kind: v1.KindEOD, AccountID: ev.AccountID, MessageID: ev.MessageID}

	d, err := p.gate.CheckEOD(ctx, ev)
	if err != nil {
		out.Tag, out.Err = Failed, dependency(metrics.DependencyStore, err)
		return out
	}
	if d.Tag != Accepted {
		out.Tag = d.Tag
		return out
	}

	if d.Mismatch {
		p.metrics.Mismatch.Inc()
		slog.WarnContext(ctx, "[Gate] EOD balance differs from expectation",
			"account_id", ev.AccountID,
			"message_id", ev.MessageID,
			"balance", ev.Balance.String(),
			"expected", d.Expected.String(),
			"new_day", d.NewDay)
	}

	dirty, err := p.reconciler.Apply(ctx, ev, d)
	if dirty {
		// Writes already made are durable even if a later step failed.
		w.ObserveEOD(ev.AccountID)
	}
	if err != nil {
		out.Tag, out.Err = Failed, err
		return out
	}

	out.Tag = Accepted
	if d.Mismatch {
		out.Tag = Mismatch
	}
	return out
}

func (p *Pipeline) processTransaction(ctx context.Context, w Window, ev *v1.TransactionEvent) Outcome {
	out := Outcome{Kind: v1.KindTransaction, AccountID: ev.AccountID, MessageID: ev.MessageID}

	tag, err := p.gate.CheckTransaction(ctx, ev)
	if err != nil {
		out.Tag, out.Err = Failed, dependency(metrics.DependencyStore, err)
		return out
	}
	if tag == Stale {
		out.Tag, out.Reason = Stale, coreerrors.ReasonOldTransaction
		return out
	}
	if tag != Accepted {
		out.Tag = tag
		return out
	}

	applied, err := p.aggregator.Apply(ctx, ev)
	if applied {
		p.observeTransaction(ctx, w, ev.AccountID)
	}
	if err != nil {
		var unknown *balance.ErrUnknownEventType
		if errors.As(err, &unknown) {
			out.Tag, out.Reason, out.Err = Invalid, coreerrors.ReasonInvalidEventType, err
			return out
		}
		out.Tag, out.Err = Failed, err
		return out
	}

	out.Tag = Accepted
	return out
}

func (p *Pipeline) observeTransaction(ctx context.Context, w Window, accountID string) {
	if err := w.ObserveTransaction(ctx, accountID); err != nil {
		// The delta is applied; the window converges on the next event.
		p.metrics.DependencyFailure.WithLabelValues(metrics.DependencyStore).Inc()
		slog.ErrorContext(ctx, "[SyncWindow] Counter update failed",
			"account_id", accountID,
			"error", err)
	}
}

// record is the only place outcome side effects happen.
func (p *Pipeline) record(ctx context.Context, msg Message, out Outcome) {
	kind := string(msg.Kind)

	switch out.Tag {
	case Accepted:
		slog.DebugContext(ctx, "[Pipeline] Event applied",
			"kind", kind,
			"account_id", out.AccountID,
			"message_id", out.MessageID)

	case Mismatch:
		slog.InfoContext(ctx, "[Pipeline] Event applied with mismatch",
			"kind", kind,
			"account_id", out.AccountID,
			"message_id", out.MessageID)

	case Duplicate:
		p.metrics.Duplicate.WithLabelValues(kind).Inc()
		slog.DebugContext(ctx, "[Gate] Duplicate dropped",
			"kind", kind,
			"message_id", out.MessageID)

	case Stale:
		p.metrics.Stale.WithLabelValues(kind).Inc()
		slog.InfoContext(ctx, "[Gate] Event older than EOD snapshot",
			"kind", kind,
			"account_id", out.AccountID,
			"message_id", out.MessageID)
		if out.Reason != "" {
			p.deadLetter(ctx, msg, out)
		}

	case Invalid:
		p.metrics.Invalid.WithLabelValues(kind).Inc()
		if out.Reason == coreerrors.ReasonInvalidEventType {
			p.metrics.InvalidEventType.Inc()
		}
		slog.WarnContext(ctx, "[Pipeline] Invalid event",
			"kind", kind,
			"account_id", out.AccountID,
			"reason", out.Reason,
			"error", out.Err)
		p.deadLetter(ctx, msg, out)

	case Failed:
		var dep *DependencyError
		if errors.As(out.Err, &dep) {
			p.metrics.DependencyFailure.WithLabelValues(dep.Dependency).Inc()
		}
		if errors.Is(out.Err, storage.ErrFacilityNotFound) {
			p.metrics.FacilityNotFound.Inc()
		}
		slog.ErrorContext(ctx, "[Pipeline] Event processing failed",
			"kind", kind,
			"account_id", out.AccountID,
			"message_id", out.MessageID,
			"error", out.Err)
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, msg Message, out Outcome) {
	if p.dlq == nil {
		return
	}
	letter := storage.DeadLetter{
		ID:         uuid.NewString(),
		Reason:     out.Reason,
		Kind:       string(msg.Kind),
		AccountID:  out.AccountID,
		Topic:      msg.Source.Topic,
		Partition:  msg.Source.Partition,
		Offset:     msg.Source.Offset,
		Payload:    msg.Payload,
		RejectedAt: p.now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(ctx, p.dlqTimeout)
	defer cancel()
	if err := p.dlq.Publish(pubCtx, letter); err != nil {
		p.metrics.DependencyFailure.WithLabelValues(metrics.DependencyDLQ).Inc()
		slog.ErrorContext(ctx, "[Pipeline] Dead-letter publish failed",
			"reason", out.Reason,
			"account_id", out.AccountID,
			"error", err)
	}
}
