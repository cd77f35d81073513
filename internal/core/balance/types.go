package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState is the stored real-time state of one account.
// Derived figures are never stored; see Compute.
type AccountState struct {
	AccountID string

	// EODBalance is the balance of the last accepted EOD snapshot.
	EODBalance decimal.Decimal

	// EODSnapshotAt orders EOD snapshots. Zero means no snapshot accepted yet.
	EODSnapshotAt time.Time

	// FacilityLimit is refreshed only when EODBalance is written.
	FacilityLimit decimal.Decimal

	// TransactionSum is the signed sum of accepted deltas since EODSnapshotAt.
	TransactionSum decimal.Decimal

	// SyncCounter counts accepted deltas since the last flush or window reset.
	SyncCounter int64
}

// HasSnapshot reports whether an EOD snapshot has ever been accepted.
func (s AccountState) HasSnapshot() bool {
	return !s.EODSnapshotAt.IsZero()
}

// Realtime is the calculator output propagated to the transactional database.
type Realtime struct {
	AccountID      string          `json:"account_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Available      decimal.Decimal `json:"available"`
	ComputedAt     time.Time       `json:"computed_at"`
}
