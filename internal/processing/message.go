package processing

import (
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
)

// Source locates a message in the transport. Zero for HTTP replays.
type Source struct {
	Topic     string
	Partition int
	Offset    int64
}

// Message is a raw inbound event before validation.
type Message struct {
	Kind       v1.Kind
	Payload    []byte
	Source     Source
	ReceivedAt time.Time
}

// AccountID is a best-effort peek used for routing; empty when the payload
// is unreadable.
func (m Message) AccountID() string {
	return v1.PeekAccountID(m.Payload)
}
