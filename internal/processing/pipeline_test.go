package processing

import (
	"testing"
	"time"

	coreerrors "github.com/aevon-lab/balance-stream/internal/core/errors"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipeline_FirstEODAppliesSnapshotAndLimit(t *testing.T) {
	f := newPipelineFixture(t)

	out := f.process(eodMessage("m-1", "acc-1", "fac-1", "2000", day))
	require.Equal(t, Accepted, out.Tag)
	require.Equal(t, "acc-1", out.AccountID)

	st := f.load(t, "acc-1")
	requireDecimal(t, "2000", st.EODBalance)
	requireDecimal(t, "1000", st.FacilityLimit)
	require.True(t, st.TransactionSum.IsZero())
	require.Equal(t, day, st.EODSnapshotAt)
	requireAvailableInvariant(t, st)

	require.Equal(t, 1, f.window.eods["acc-1"])
	require.Zero(t, testutil.ToFloat64(f.metrics.Mismatch))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Received.WithLabelValues("eod")))
}

func TestPipeline_DuplicateEODIsNoOp(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "2000", day)).Tag)
	before := f.load(t, "acc-1")

	out := f.process(eodMessage("m-1", "acc-1", "fac-1", "9999", day.Add(24*time.Hour)))
	require.Equal(t, Duplicate, out.Tag)
	require.Equal(t, before, f.load(t, "acc-1"))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Duplicate.WithLabelValues("eod")))
	require.Empty(t, f.dlq.letters)
	require.Equal(t, 1, f.facilities.calls)
}

func TestPipeline_OlderEODNeverMutates(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "2000", day)).Tag)
	before := f.load(t, "acc-1")

	out := f.process(eodMessage("m-0", "acc-1", "fac-1", "1500", day.Add(-24*time.Hour)))
	require.Equal(t, Stale, out.Tag)
	require.Empty(t, out.Reason)
	require.Equal(t, before, f.load(t, "acc-1"))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Stale.WithLabelValues("eod")))
	require.Empty(t, f.dlq.letters, "stale EOD is metric-only")
}

func TestPipeline_SameDayBackfillKeepsTransactions(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)
	require.Equal(t, Accepted, f.process(txMessage("t-1", "acc-1", "200", "CREATED", day.Add(time.Hour))).Tag)
	require.Equal(t, Accepted, f.process(txMessage("t-2", "acc-1", "50", "REMOVED", day.Add(2*time.Hour))).Tag)

	out := f.process(eodMessage("m-2", "acc-1", "fac-1", "2000", day))
	require.Equal(t, Mismatch, out.Tag, "corrected balance differs from the stored snapshot")
	require.True(t, out.Tag.Applied())

	st := f.load(t, "acc-1")
	requireDecimal(t, "2000", st.EODBalance)
	requireDecimal(t, "150", st.TransactionSum)
	requireDecimal(t, "2150", st.EODBalance.Add(st.TransactionSum))
	requireAvailableInvariant(t, st)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Mismatch))
	require.Equal(t, 2, f.facilities.calls, "limit is re-resolved on every EOD update")
}

func TestPipeline_SameDayResendWithEqualBalance(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)
	require.Equal(t, Accepted, f.process(txMessage("t-1", "acc-1", "25", "CREATED", day.Add(time.Hour))).Tag)

	out := f.process(eodMessage("m-2", "acc-1", "fac-1", "1000", day))
	require.Equal(t, Accepted, out.Tag)

	st := f.load(t, "acc-1")
	requireDecimal(t, "1000", st.EODBalance)
	requireDecimal(t, "25", st.TransactionSum)
	require.Equal(t, 2, f.facilities.calls)
}

func TestPipeline_NewDayResetsTransactionSum(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)
	for i, amount := range []string{"500", "300", "50"} {
		eventType := "CREATED"
		if amount == "50" {
			eventType = "REMOVED"
		}
		msgID := "t-" + string(rune('a'+i))
		require.Equal(t, Accepted, f.process(txMessage(msgID, "acc-1", amount, eventType, day.Add(time.Hour))).Tag)
	}
	requireDecimal(t, "750", f.load(t, "acc-1").TransactionSum)

	out := f.process(eodMessage("m-2", "acc-1", "fac-1", "1750", day.Add(24*time.Hour)))
	require.Equal(t, Accepted, out.Tag, "1000 + 750 matches the expectation")

	st := f.load(t, "acc-1")
	require.True(t, st.TransactionSum.IsZero())
	requireDecimal(t, "1750", st.EODBalance.Add(st.TransactionSum))
	requireAvailableInvariant(t, st)

	out = f.process(eodMessage("m-3", "acc-1", "fac-1", "1800", day.Add(48*time.Hour)))
	require.Equal(t, Mismatch, out.Tag)
	requireDecimal(t, "1800", f.load(t, "acc-1").EODBalance)
}

func TestPipeline_TransactionSumIsOrderIndependent(t *testing.T) {
	amounts := []struct {
		id, amount, eventType string
	}{
		{"t-1", "100.10", "CREATED"},
		{"t-2", "20.05", "REMOVED"},
		{"t-3", "0.95", "CREATED"},
		{"t-4", "31", "REMOVED"},
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}}

	for _, order := range orders {
		f := newPipelineFixture(t)
		require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "0", day)).Tag)
		for _, i := range order {
			a := amounts[i]
			require.Equal(t, Accepted, f.process(txMessage(a.id, "acc-1", a.amount, a.eventType, day.Add(time.Minute))).Tag)
		}
		requireDecimal(t, "50", f.load(t, "acc-1").TransactionSum)
	}
}

func TestPipeline_OldTransactionGoesToDLQ(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)
	require.Equal(t, Accepted, f.process(txMessage("t-1", "acc-1", "10", "CREATED", day.Add(time.Minute))).Tag)

	out := f.process(txMessage("t-old", "acc-1", "999", "CREATED", day.Add(-time.Second)))
	require.Equal(t, Stale, out.Tag)
	require.Equal(t, coreerrors.ReasonOldTransaction, out.Reason)
	requireDecimal(t, "10", f.load(t, "acc-1").TransactionSum)

	require.Len(t, f.dlq.letters, 1)
	letter := f.dlq.letters[0]
	require.Equal(t, coreerrors.ReasonOldTransaction, letter.Reason)
	require.Equal(t, "transaction", letter.Kind)
	require.Equal(t, "acc-1", letter.AccountID)
	require.Equal(t, "balance.transactions", letter.Topic)
	require.Equal(t, int64(42), letter.Offset)
	require.NotEmpty(t, letter.ID)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Stale.WithLabelValues("transaction")))
	require.Equal(t, 1, f.window.transactions["acc-1"], "rejected events do not touch the window")
}

func TestPipeline_TransactionAtSnapshotTimeIsAccepted(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)
	require.Equal(t, Accepted, f.process(txMessage("t-1", "acc-1", "10", "CREATED", day)).Tag)
}

func TestPipeline_TransactionBeforeAnyEODIsAccepted(t *testing.T) {
	f := newPipelineFixture(t)

	out := f.process(txMessage("t-1", "acc-new", "40", "CREATED", day))
	require.Equal(t, Accepted, out.Tag)

	st := f.load(t, "acc-new")
	requireDecimal(t, "40", st.TransactionSum)
	require.False(t, st.HasSnapshot())
	requireAvailableInvariant(t, st)
}

func TestPipeline_DuplicateTransaction(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(txMessage("t-1", "acc-1", "40", "CREATED", day)).Tag)
	out := f.process(txMessage("t-1", "acc-1", "40", "CREATED", day))

	require.Equal(t, Duplicate, out.Tag)
	requireDecimal(t, "40", f.load(t, "acc-1").TransactionSum)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Duplicate.WithLabelValues("transaction")))
	require.Empty(t, f.dlq.letters)
}

func TestPipeline_FacilityNotFoundKeepsBalanceAndOldLimit(t *testing.T) {
	f := newPipelineFixture(t)

	require.Equal(t, Accepted, f.process(eodMessage("m-1", "acc-1", "fac-1", "1000", day)).Tag)

	out := f.process(eodMessage("m-2", "acc-1", "fac-missing", "1200", day.Add(24*time.Hour)))
	require.Equal(t, Failed, out.Tag)

	st := f.load(t, "acc-1")
	requireDecimal(t, "1200", st.EODBalance)
	requireDecimal(t, "1000", st.FacilityLimit)
	require.Equal(t, day.Add(24*time.Hour), st.EODSnapshotAt)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FacilityNotFound))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DependencyFailure.WithLabelValues(metrics.DependencyFacility)))
	require.Equal(t, 2, f.window.eods["acc-1"], "applied balance still needs a sync")
	require.Empty(t, f.dlq.letters)

	// Redelivery of the same message is a duplicate; the limit waits for the next EOD.
	require.Equal(t, Duplicate, f.process(eodMessage("m-2", "acc-1", "fac-missing", "1200", day.Add(24*time.Hour))).Tag)
}

func TestPipeline_InvalidMessagesAreDeadLettered(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "malformed json",
			msg:  Message{Kind: "eod", Payload: []byte(`{"account_id":"acc-1",`)},
		},
		{
			name: "missing balance",
			msg:  Message{Kind: "eod", Payload: []byte(`{"message_id":"m","account_id":"acc-1","facility_id":"f","timestamp":"2026-03-01T00:00:00Z"}`)},
		},
		{
			name: "unknown event type",
			msg:  txMessage("t-1", "acc-1", "10", "UPDATED", day),
		},
		{
			name: "non numeric amount",
			msg:  txMessage("t-1", "acc-1", `"ten"`, "CREATED", day),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newPipelineFixture(t)

			out := f.process(tc.msg)
			require.Equal(t, Invalid, out.Tag)
			require.Equal(t, coreerrors.ReasonInvalidMessage, out.Reason)
			require.Error(t, out.Err)

			require.Len(t, f.dlq.letters, 1)
			require.Equal(t, tc.msg.Payload, f.dlq.letters[0].Payload)
			require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Invalid.WithLabelValues(string(tc.msg.Kind))))

			_, found, err := f.store.Load(t.Context(), "acc-1")
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestPipeline_ObservesWindowOnAcceptedTransactions(t *testing.T) {
	f := newPipelineFixture(t)

	for i := 0; i < 3; i++ {
		msgID := "t-" + string(rune('a'+i))
		require.Equal(t, Accepted, f.process(txMessage(msgID, "acc-1", "1", "CREATED", day)).Tag)
	}
	require.Equal(t, 3, f.window.transactions["acc-1"])
	require.Zero(t, f.window.eods["acc-1"])
}
