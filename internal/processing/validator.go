package processing

import (
	"fmt"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
)

// Event is a validated inbound event; exactly one field is set.
type Event struct {
	EOD         *v1.EodBalanceEvent
	Transaction *v1.TransactionEvent
}

func (e Event) AccountID() string {
	if e.EOD != nil {
		return e.EOD.AccountID
	}
	return e.Transaction.AccountID
}

func (e Event) MessageID() string {
	if e.EOD != nil {
		return e.EOD.MessageID
	}
	return e.Transaction.MessageID
}

// Validate decodes and checks a raw message. Any error means Invalid.
func Validate(msg Message) (Event, error) {
	switch msg.Kind {
	case v1.KindEOD:
		ev, err := v1.DecodeEodBalance(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		return Event{EOD: ev}, nil
	case v1.KindTransaction:
		ev, err := v1.DecodeTransaction(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		return Event{Transaction: ev}, nil
	default:
		return Event{}, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}
