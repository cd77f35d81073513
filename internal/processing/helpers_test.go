package processing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/aevon-lab/balance-stream/internal/core/storage/memory"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeFacilities struct {
	mu     sync.Mutex
	limits map[string]decimal.Decimal
	calls  int
}

func (f *fakeFacilities) FacilityLimit(ctx context.Context, facilityID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	limit, ok := f.limits[facilityID]
	if !ok {
		return decimal.Zero, storage.ErrFacilityNotFound
	}
	return limit, nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	letters []storage.DeadLetter
}

func (f *fakeDLQ) Publish(ctx context.Context, letter storage.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, letter)
	return nil
}

type fakeWindow struct {
	transactions map[string]int
	eods         map[string]int
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{transactions: map[string]int{}, eods: map[string]int{}}
}

func (w *fakeWindow) ObserveTransaction(ctx context.Context, accountID string) error {
	w.transactions[accountID]++
	return nil
}

func (w *fakeWindow) ObserveEOD(accountID string) {
	w.eods[accountID]++
}

type pipelineFixture struct {
	pipeline   *Pipeline
	store      *state.AccountStore
	facilities *fakeFacilities
	dlq        *fakeDLQ
	window     *fakeWindow
	metrics    *metrics.Metrics
	clock      *fakeClock
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	return newPipelineFixtureWithKV(t, func(s *memory.Store) storage.KeyValueStore { return s })
}

// newPipelineFixtureWithKV lets a test wrap the memory backend, e.g. to
// inject failures on selected keys.
func newPipelineFixtureWithKV(t *testing.T, wrap func(*memory.Store) storage.KeyValueStore) *pipelineFixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := state.NewAccountStore(wrap(memory.NewStoreWithClock(clock.Now)), state.Options{StoreTimeout: time.Second})
	facilities := &fakeFacilities{limits: map[string]decimal.Decimal{
		"fac-1": decimal.NewFromInt(1000),
	}}
	dlq := &fakeDLQ{}
	m := metrics.NewNop()

	p := NewPipeline(store, facilities, dlq, m, PipelineOptions{
		FacilityTimeout:   time.Second,
		DedupTransactions: true,
		Now:               clock.Now,
	})

	return &pipelineFixture{
		pipeline:   p,
		store:      store,
		facilities: facilities,
		dlq:        dlq,
		window:     newFakeWindow(),
		metrics:    m,
		clock:      clock,
	}
}

var day = time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)

func eodMessage(messageID, accountID, facilityID, bal string, ts time.Time) Message {
	payload := fmt.Sprintf(`{"message_id":%q,"account_id":%q,"facility_id":%q,"balance":%s,"timestamp":%q}`,
		messageID, accountID, facilityID, bal, ts.Format(time.RFC3339Nano))
	return Message{Kind: v1.KindEOD, Payload: []byte(payload), Source: Source{Topic: "balance.eod"}}
}

func txMessage(messageID, accountID, amount, eventType string, ts time.Time) Message {
	payload := fmt.Sprintf(`{"message_id":%q,"account_id":%q,"amount":%s,"event_type":%q,"timestamp":%q}`,
		messageID, accountID, amount, eventType, ts.Format(time.RFC3339Nano))
	return Message{Kind: v1.KindTransaction, Payload: []byte(payload), Source: Source{Topic: "balance.transactions", Partition: 3, Offset: 42}}
}

func (f *pipelineFixture) process(msg Message) Outcome {
	return f.pipeline.Process(context.Background(), f.window, msg)
}

func (f *pipelineFixture) load(t *testing.T, accountID string) balance.AccountState {
	t.Helper()
	st, _, err := f.store.Load(context.Background(), accountID)
	require.NoError(t, err)
	return st
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func requireAvailableInvariant(t *testing.T, st balance.AccountState) {
	t.Helper()
	rt := balance.Compute(st, time.Time{})
	require.True(t, rt.Available.Equal(st.FacilityLimit.Add(rt.CurrentBalance)))
	require.True(t, rt.CurrentBalance.Equal(st.EODBalance.Add(st.TransactionSum)))
}
