package processing

import (
	"fmt"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
)

// Tag is the terminal classification of one processed event.
type Tag int

const (
	Accepted Tag = iota
	Duplicate
	Stale
	Mismatch
	Invalid
	Failed
)

var tagNames = map[Tag]string{
	Accepted:  "accepted",
	Duplicate: "duplicate",
	Stale:     "stale",
	Mismatch:  "mismatch",
	Invalid:   "invalid",
	Failed:    "failed",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Applied reports whether the event changed (or was allowed to change) state.
func (t Tag) Applied() bool {
	return t == Accepted || t == Mismatch
}

// Outcome is returned for every processed message. Reason is a DLQ reason
// tag when the event is dead-lettered.
type Outcome struct {
	Tag       Tag
	Kind      v1.Kind
	AccountID string
	MessageID string
	Reason    string
	Err       error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Tag, o.Err)
	}
	return o.Tag.String()
}
