package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
)

// StateReader reads an account's real-time state.
type StateReader interface {
	Load(ctx context.Context, accountID string) (balance.AccountState, bool, error)
}

// Service implements the read side: the real-time balance from the state
// store and the propagated projection from the transactional database.
type Service struct {
	state       StateReader
	projections storage.ProjectionStore
	nowFn       func() time.Time
}

func NewService(state StateReader, projections storage.ProjectionStore) *Service {
	return &Service{
		state:       state,
		projections: projections,
		nowFn:       time.Now,
	}
}

// Balance returns the calculator output for accountID. storage.ErrAccountNotFound
// when no state exists yet.
func (s *Service) Balance(ctx context.Context, accountID string) (*BalanceResponse, error) {
	st, found, err := s.state.Load(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account state: %w", err)
	}
	if !found {
		return nil, storage.ErrAccountNotFound
	}

	rt := balance.Compute(st, s.nowFn().UTC())
	resp := &BalanceResponse{
		AccountID:        accountID,
		EODBalance:       st.EODBalance,
		TransactionSum:   st.TransactionSum,
		FacilityLimit:    st.FacilityLimit,
		CurrentBalance:   rt.CurrentBalance,
		AvailableBalance: rt.Available,
		ComputedAt:       rt.ComputedAt,
	}
	if st.HasSnapshot() {
		at := st.EODSnapshotAt
		resp.EODSnapshotAt = &at
	}
	return resp, nil
}

// Projection returns the transactional row for accountID.
func (s *Service) Projection(ctx context.Context, accountID string) (*ProjectionResponse, error) {
	if s.projections == nil {
		return nil, errors.New("projection store not configured")
	}
	p, err := s.projections.GetAccountProjection(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp := &ProjectionResponse{
		AccountID:        p.AccountID,
		AccountBalance:   p.AccountBalance,
		AccountAvailable: p.AccountAvailable,
	}
	if !p.UpdatedAt.IsZero() {
		at := p.UpdatedAt
		resp.UpdatedAt = &at
	}
	return resp, nil
}
