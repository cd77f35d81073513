package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by KeyValueStore.Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")

	// ErrFacilityNotFound is returned when the facility reference table has no row.
	ErrFacilityNotFound = errors.New("facility not found")

	// ErrAccountNotFound is returned when neither real-time state nor a projection row exists.
	ErrAccountNotFound = errors.New("account not found")
)

// KeyValueStore is the set of low-latency store primitives the core consumes.
// A ttl of zero means "no expiry".
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	// IncrByFloat adds delta to the numeric value at key (absent counts as 0)
	// and returns the new value.
	IncrByFloat(ctx context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error)

	// Expire sets a TTL on an existing key. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
}

// AccountProjection is the row the daily transactional calculation owns.
// This system only ever UPDATEs the real-time preview columns.
type AccountProjection struct {
	AccountID        string          `json:"account_id"`
	AccountBalance   decimal.Decimal `json:"account_balance"`
	AccountAvailable decimal.Decimal `json:"account_available"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ProjectionStore is the transactional database as seen by the sync path and read API.
type ProjectionStore interface {
	// UpdateRealtimeBalances writes all updates in one transaction.
	// Account IDs that matched no row are returned in missing; that is not an error.
	UpdateRealtimeBalances(ctx context.Context, updates []balance.Realtime) (missing []string, err error)

	// GetAccountProjection returns ErrAccountNotFound when no row exists.
	GetAccountProjection(ctx context.Context, accountID string) (*AccountProjection, error)
}

// FacilitySource resolves credit limits from the facility reference table.
type FacilitySource interface {
	// FacilityLimit returns ErrFacilityNotFound when the facility has no row.
	FacilityLimit(ctx context.Context, facilityID string) (decimal.Decimal, error)
}

// DeadLetter is a copy of a refused event plus the reason it was refused.
type DeadLetter struct {
	ID         string    `json:"id"`
	Reason     string    `json:"reason"`
	Kind       string    `json:"kind"`
	AccountID  string    `json:"account_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Partition  int       `json:"partition"`
	Offset     int64     `json:"offset"`
	Payload    []byte    `json:"payload"`
	RejectedAt time.Time `json:"rejected_at"`
}

// DeadLetterSink accepts refused events. Fire-and-forget from the core's view.
type DeadLetterSink interface {
	Publish(ctx context.Context, letter DeadLetter) error
}
