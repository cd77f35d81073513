package v1

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind names the two canonical inbound streams.
type Kind string

const (
	KindEOD         Kind = "eod"
	KindTransaction Kind = "transaction"
)

// TransactionType is the lifecycle verb carried by a transaction event.
type TransactionType string

const (
	TransactionCreated TransactionType = "CREATED"
	TransactionRemoved TransactionType = "REMOVED"
)

// EodBalanceEvent is the authoritative end-of-day snapshot for one account.
// Produced by the canonicalization stage; immutable once emitted.
type EodBalanceEvent struct {
	// MessageID is the idempotency key. Redelivery reuses it.
	MessageID string `json:"message_id"`

	AccountID  string `json:"account_id"`
	FacilityID string `json:"facility_id"`

	// Balance is the account balance as of Timestamp.
	Balance decimal.Decimal `json:"balance"`

	// Timestamp is event time (the logical day of the snapshot), not receipt time.
	// It orders EOD snapshots per account.
	Timestamp time.Time `json:"timestamp"`
}

// TransactionEvent is a single real-time delta against an account.
type TransactionEvent struct {
	MessageID string          `json:"message_id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	EventType TransactionType `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
}

// Known reports whether t is one of the recognized transaction verbs.
func (t TransactionType) Known() bool {
	return t == TransactionCreated || t == TransactionRemoved
}
