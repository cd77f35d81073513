package balance

import (
	"fmt"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/shopspring/decimal"
)

// Signs maps each transaction verb to the sign of its delta.
// To support a new verb, add an entry here; callers never switch on the type.
var Signs = map[v1.TransactionType]decimal.Decimal{
	v1.TransactionCreated: decimal.NewFromInt(1),
	v1.TransactionRemoved: decimal.NewFromInt(-1),
}

// ErrUnknownEventType is returned by Delta for verbs missing from Signs.
type ErrUnknownEventType struct {
	EventType v1.TransactionType
}

func (e *ErrUnknownEventType) Error() string {
	return fmt.Sprintf("unknown transaction event type %q", string(e.EventType))
}

// Delta returns the signed amount a transaction contributes to transaction_sum.
func Delta(eventType v1.TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	sign, ok := Signs[eventType]
	if !ok {
		return decimal.Zero, &ErrUnknownEventType{EventType: eventType}
	}
	return amount.Mul(sign), nil
}
