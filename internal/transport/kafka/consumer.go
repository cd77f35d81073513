package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/processing"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const defaultCommitInterval = time.Second

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter hands messages to the worker pool.
type Submitter interface {
	Submit(ctx context.Context, msg processing.Message, done func(processing.Outcome)) error
}

type ReaderConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewReader builds a group reader with auto-commit disabled.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: 0,
	})
}

// Consumer feeds one topic into the dispatcher and commits offsets once the
// messages before them have been processed.
type Consumer struct {
	reader         Reader
	kind           v1.Kind
	submitter      Submitter
	tracker        *CommitTracker
	notify         chan struct{}
	commitInterval time.Duration
	now            func() time.Time
}

func NewConsumer(reader Reader, kind v1.Kind, submitter Submitter) *Consumer {
	return &Consumer{
		reader:         reader,
		kind:           kind,
		submitter:      submitter,
		tracker:        NewCommitTracker(),
		notify:         make(chan struct{}, 1),
		commitInterval: defaultCommitInterval,
		now:            time.Now,
	}
}

// Run fetches until ctx is cancelled. Offsets already completed are
// committed before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("[Kafka] Consumer starting", "kind", c.kind)

	fetchCtx, stopCommits := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		defer stopCommits()
		return c.fetch(gctx)
	})
	g.Go(func() error {
		c.commitLoop(gctx)
		return nil
	})
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.commit(shutdownCtx)

	slog.Info("[Kafka] Consumer stopped",
		"kind", c.kind,
		"uncommitted", c.tracker.InFlight())
	return err
}

func (c *Consumer) fetch(ctx context.Context) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch %s message: %w", c.kind, err)
		}

		c.tracker.Track(km.Topic, km.Partition, km.Offset)

		msg := processing.Message{
			Kind:    c.kind,
			Payload: km.Value,
			Source: processing.Source{
				Topic:     km.Topic,
				Partition: km.Partition,
				Offset:    km.Offset,
			},
			ReceivedAt: c.now(),
		}
		topic, part, offset := km.Topic, km.Partition, km.Offset
		err = c.submitter.Submit(ctx, msg, func(out processing.Outcome) {
			if errors.Is(out.Err, context.Canceled) {
				return
			}
			if c.tracker.Complete(topic, part, offset) {
				select {
				case c.notify <- struct{}{}:
				default:
				}
			}
		})
		if err != nil {
			if errors.Is(err, processing.ErrDispatcherStopped) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("submit %s message: %w", c.kind, err)
		}
	}
}

func (c *Consumer) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(c.commitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		case <-ticker.C:
		}
		c.commit(ctx)
	}
}

func (c *Consumer) commit(ctx context.Context) {
	msgs := c.tracker.Drain()
	if len(msgs) == 0 {
		return
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		// Offsets were dropped from the tracker; the next completion on the
		// partition carries a higher offset, and anything lost is redelivered.
		slog.Error("[Kafka] Offset commit failed",
			"kind", c.kind,
			"partitions", len(msgs),
			"error", err)
		return
	}
	slog.Debug("[Kafka] Offsets committed", "kind", c.kind, "partitions", len(msgs))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
