package processing

import (
	"context"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// FacilityResolver looks up credit limits with a bounded timeout.
// Concurrent lookups for the same facility share one query.
type FacilityResolver struct {
	source  storage.FacilitySource
	timeout time.Duration
	group   singleflight.Group
}

func NewFacilityResolver(source storage.FacilitySource, timeout time.Duration) *FacilityResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &FacilityResolver{source: source, timeout: timeout}
}

// Resolve returns storage.ErrFacilityNotFound when no row exists.
func (r *FacilityResolver) Resolve(ctx context.Context, facilityID string) (decimal.Decimal, error) {
	v, err, _ := r.group.Do(facilityID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.source.FacilityLimit(ctx, facilityID)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}
