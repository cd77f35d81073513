package balance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseStored converts a value read back from the state store into a decimal.
// Empty means "never written" and yields zero. INCRBYFLOAT results come back as
// plain float strings (e.g. "150.5" or "1e-05"); NewFromString accepts both.
func ParseStored(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("stored value %q is not a decimal: %w", raw, err)
	}
	return d, nil
}
