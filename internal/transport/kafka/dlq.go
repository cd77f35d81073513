package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the DLQ producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterRecord struct {
	ID         string    `json:"id"`
	Reason     string    `json:"reason"`
	Kind       string    `json:"kind"`
	AccountID  string    `json:"account_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Partition  int       `json:"partition"`
	Offset     int64     `json:"offset"`
	RejectedAt time.Time `json:"rejected_at"`

	// Exactly one of these is set. Payloads that are not valid JSON are
	// carried base64-encoded so invalid UTF-8 survives unaltered.
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadBase64 []byte          `json:"payload_base64,omitempty"`
}

// DeadLetterWriter publishes refused events to the DLQ topic.
type DeadLetterWriter struct {
	writer Writer
}

// NewDeadLetterWriter writes one letter per call, so batching is kept
// to a few milliseconds or every refusal would wait out the 1s default.
func NewDeadLetterWriter(brokers []string, topic string) *DeadLetterWriter {
	return &DeadLetterWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}}
}

func NewDeadLetterWriterWith(w Writer) *DeadLetterWriter {
	return &DeadLetterWriter{writer: w}
}

func (d *DeadLetterWriter) Publish(ctx context.Context, letter storage.DeadLetter) error {
	rec := deadLetterRecord{
		ID:         letter.ID,
		Reason:     letter.Reason,
		Kind:       letter.Kind,
		AccountID:  letter.AccountID,
		Topic:      letter.Topic,
		Partition:  letter.Partition,
		Offset:     letter.Offset,
		RejectedAt: letter.RejectedAt,
	}
	if json.Valid(letter.Payload) {
		rec.Payload = json.RawMessage(letter.Payload)
	} else {
		rec.PayloadBase64 = letter.Payload
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	msg := kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: "reason", Value: []byte(letter.Reason)}},
	}
	if letter.AccountID != "" {
		msg.Key = []byte(letter.AccountID)
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

func (d *DeadLetterWriter) Close() error {
	return d.writer.Close()
}

var _ storage.DeadLetterSink = (*DeadLetterWriter)(nil)
