package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrentBalance is eod_balance + transaction_sum.
func CurrentBalance(eod, transactionSum decimal.Decimal) decimal.Decimal {
	return eod.Add(transactionSum)
}

// Available is facility_limit + current_balance.
func Available(facilityLimit, current decimal.Decimal) decimal.Decimal {
	return facilityLimit.Add(current)
}

// Compute derives the real-time figures for s. Pure; at is stamped as-is.
func Compute(s AccountState, at time.Time) Realtime {
	current := CurrentBalance(s.EODBalance, s.TransactionSum)
	return Realtime{
		AccountID:      s.AccountID,
		CurrentBalance: current,
		Available:      Available(s.FacilityLimit, current),
		ComputedAt:     at,
	}
}
