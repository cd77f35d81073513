package state

import (
	"context"
	"testing"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAccountStore() (*AccountStore, *memory.Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	kv := memory.NewStoreWithClock(clock.Now)
	return NewAccountStore(kv, Options{StoreTimeout: time.Second}), kv, clock
}

func TestAccountStore_LoadEmpty(t *testing.T) {
	s, _, _ := newTestAccountStore()

	st, found, err := s.Load(context.Background(), "acc-1")
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, st.HasSnapshot())
	require.True(t, st.TransactionSum.IsZero())
}

func TestAccountStore_ApplyEODAndTransactions(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestAccountStore()
	day1 := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)

	require.NoError(t, s.ApplyEOD(ctx, "acc-1", decimal.NewFromInt(2000), day1, true))
	_, err := s.AddTransaction(ctx, "acc-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	sum, err := s.AddTransaction(ctx, "acc-1", decimal.RequireFromString("-49.5"))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("50.5").Equal(sum))
	require.NoError(t, s.SetFacilityLimit(ctx, "acc-1", decimal.NewFromInt(500)))

	st, found, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, decimal.NewFromInt(2000).Equal(st.EODBalance))
	require.True(t, decimal.RequireFromString("50.5").Equal(st.TransactionSum))
	require.True(t, decimal.NewFromInt(500).Equal(st.FacilityLimit))
	require.Equal(t, day1, st.EODSnapshotAt)

	raw, err := kv.Get(ctx, "account:acc-1:balance:eod")
	require.NoError(t, err)
	require.Equal(t, "2000", raw)
}

func TestAccountStore_ApplyEODResetSum(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestAccountStore()
	day1 := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ApplyEOD(ctx, "acc-1", decimal.NewFromInt(2000), day1, true))
	_, err := s.AddTransaction(ctx, "acc-1", decimal.NewFromInt(150))
	require.NoError(t, err)

	// Same-day correction keeps the sum.
	require.NoError(t, s.ApplyEOD(ctx, "acc-1", decimal.NewFromInt(2100), day1, false))
	st, _, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(150).Equal(st.TransactionSum))

	// New day resets it.
	require.NoError(t, s.ApplyEOD(ctx, "acc-1", decimal.NewFromInt(2250), day1.Add(24*time.Hour), true))
	st, _, err = s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, st.TransactionSum.IsZero())
}

func TestAccountStore_EODKeysExpire(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestAccountStore()

	require.NoError(t, s.ApplyEOD(ctx, "acc-1", decimal.NewFromInt(10), clock.Now(), true))
	clock.Advance(25 * time.Hour)

	_, found, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAccountStore_DedupRecords(t *testing.T) {
	ctx := context.Background()
	s, kv, clock := newTestAccountStore()

	seen, err := s.SeenEOD(ctx, "msg-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.MarkEOD(ctx, "msg-1", clock.Now()))
	seen, err = s.SeenEOD(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, seen)

	// EOD and transaction records live in separate namespaces.
	seen, err = s.SeenTransaction(ctx, "msg-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.MarkTransaction(ctx, "msg-1", clock.Now()))
	ok, err := kv.Exists(ctx, "message:msg-1:transaction")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(25 * time.Hour)
	seen, err = s.SeenEOD(ctx, "msg-1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestAccountStore_SyncCounter(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestAccountStore()
	window := 60 * time.Second

	_, ok, err := s.SyncCounter(ctx, "acc-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ResetSyncCounter(ctx, "acc-1", window))
	n, err := s.IncrSyncCounter(ctx, "acc-1", window)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	clock.Advance(59 * time.Second)
	n, err = s.IncrSyncCounter(ctx, "acc-1", window)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// TTL slid on the last increment.
	clock.Advance(59 * time.Second)
	n, ok, err = s.SyncCounter(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	clock.Advance(time.Second)
	_, ok, err = s.SyncCounter(ctx, "acc-1")
	require.NoError(t, err)
	require.False(t, ok)
}
