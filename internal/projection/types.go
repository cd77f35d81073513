package projection

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceResponse is the real-time view served from the state store.
type BalanceResponse struct {
	AccountID        string          `json:"account_id"`
	EODBalance       decimal.Decimal `json:"eod_balance"`
	EODSnapshotAt    *time.Time      `json:"eod_snapshot_timestamp,omitempty"`
	TransactionSum   decimal.Decimal `json:"transaction_sum"`
	FacilityLimit    decimal.Decimal `json:"facility_limit"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// ProjectionResponse is the last value propagated to the transactional database.
type ProjectionResponse struct {
	AccountID        string          `json:"account_id"`
	AccountBalance   decimal.Decimal `json:"account_balance"`
	AccountAvailable decimal.Decimal `json:"account_available"`
	UpdatedAt        *time.Time      `json:"updated_at,omitempty"`
}
