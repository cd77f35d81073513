package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAdapter_UpdateRealtimeBalances(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		updates    []balance.Realtime
		mockResult func(mock sqlmock.Sqlmock)
		assertions func(t *testing.T, missing []string, err error)
	}{
		{
			name: "all rows updated in one transaction",
			updates: []balance.Realtime{
				{AccountID: "acc-1", CurrentBalance: decimal.RequireFromString("150.25"), Available: decimal.RequireFromString("1150.25"), ComputedAt: now},
				{AccountID: "acc-2", CurrentBalance: decimal.RequireFromString("-20"), Available: decimal.RequireFromString("480"), ComputedAt: now},
			},
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare(regexp.QuoteMeta(queryUpdateRealtimeBalance))
				mock.ExpectExec(regexp.QuoteMeta(queryUpdateRealtimeBalance)).
					WithArgs("150.25", "1150.25", sqlmock.AnyArg(), "acc-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(queryUpdateRealtimeBalance)).
					WithArgs("-20", "480", sqlmock.AnyArg(), "acc-2").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			assertions: func(t *testing.T, missing []string, err error) {
				require.NoError(t, err)
				require.Empty(t, missing)
			},
		},
		{
			name: "missing projection row is reported not failed",
			updates: []balance.Realtime{
				{AccountID: "acc-1", CurrentBalance: decimal.NewFromInt(10), Available: decimal.NewFromInt(10), ComputedAt: now},
				{AccountID: "acc-ghost", CurrentBalance: decimal.NewFromInt(5), Available: decimal.NewFromInt(5), ComputedAt: now},
			},
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare(regexp.QuoteMeta(queryUpdateRealtimeBalance))
				mock.ExpectExec(regexp.QuoteMeta(queryUpdateRealtimeBalance)).
					WithArgs("10", "10", sqlmock.AnyArg(), "acc-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(queryUpdateRealtimeBalance)).
					WithArgs("5", "5", sqlmock.AnyArg(), "acc-ghost").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			assertions: func(t *testing.T, missing []string, err error) {
				require.NoError(t, err)
				require.Equal(t, []string{"acc-ghost"}, missing)
			},
		},
		{
			name: "exec error rolls back",
			updates: []balance.Realtime{
				{AccountID: "acc-1", CurrentBalance: decimal.NewFromInt(1), Available: decimal.NewFromInt(1), ComputedAt: now},
			},
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare(regexp.QuoteMeta(queryUpdateRealtimeBalance))
				mock.ExpectExec(regexp.QuoteMeta(queryUpdateRealtimeBalance)).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			assertions: func(t *testing.T, missing []string, err error) {
				require.Error(t, err)
				require.ErrorContains(t, err, "acc-1")
				require.Nil(t, missing)
			},
		},
		{
			name:    "empty batch is a no-op",
			updates: nil,
			assertions: func(t *testing.T, missing []string, err error) {
				require.NoError(t, err)
				require.Nil(t, missing)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			if tc.mockResult != nil {
				tc.mockResult(mock)
			}

			missing, err := adapter.UpdateRealtimeBalances(context.Background(), tc.updates)
			tc.assertions(t, missing, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_GetAccountProjection(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	updatedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetAccountProjection)).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(projectionRowColumns()).
			AddRow("acc-1", "2150.00", "3150.00", updatedAt))

	p, err := adapter.GetAccountProjection(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Equal(t, "acc-1", p.AccountID)
	require.True(t, decimal.RequireFromString("2150").Equal(p.AccountBalance))
	require.True(t, decimal.RequireFromString("3150").Equal(p.AccountAvailable))
	require.Equal(t, updatedAt, p.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetAccountProjection)).
		WithArgs("acc-missing").
		WillReturnRows(sqlmock.NewRows(projectionRowColumns()))

	_, err = adapter.GetAccountProjection(context.Background(), "acc-missing")
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_FacilityLimit(t *testing.T) {
	tests := []struct {
		name       string
		mockResult func(mock sqlmock.Sqlmock)
		wantLimit  string
		wantErr    error
	}{
		{
			name: "found",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryGetFacilityLimit)).
					WithArgs("fac-1").
					WillReturnRows(sqlmock.NewRows([]string{"facility_limit"}).AddRow("5000.00"))
			},
			wantLimit: "5000",
		},
		{
			name: "not found",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryGetFacilityLimit)).
					WithArgs("fac-1").
					WillReturnRows(sqlmock.NewRows([]string{"facility_limit"}))
			},
			wantErr: storage.ErrFacilityNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.mockResult(mock)

			limit, err := adapter.FacilityLimit(context.Background(), "fac-1")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				require.True(t, decimal.RequireFromString(tc.wantLimit).Equal(limit))
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestValidateSchema_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryTableExists)).
		WithArgs("account_projection").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(queryTableExists)).
		WithArgs("facility").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = validateSchema(db)
	require.ErrorContains(t, err, "facility table does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dbCloseErr := errors.New("db close failed")

	mock.ExpectPrepare(regexp.QuoteMeta(queryGetAccountProjection)).WillBeClosed()
	stmtProjection, err := db.Prepare(queryGetAccountProjection)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryGetFacilityLimit)).WillBeClosed()
	stmtFacility, err := db.Prepare(queryGetFacilityLimit)
	require.NoError(t, err)

	mock.ExpectClose().WillReturnError(dbCloseErr)

	adapter := &Adapter{
		db:                db,
		stmtGetProjection: stmtProjection,
		stmtGetFacility:   stmtFacility,
	}

	err = adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                db,
		stmtGetProjection: mustPrepareStmt(t, db, mock, queryGetAccountProjection),
		stmtGetFacility:   mustPrepareStmt(t, db, mock, queryGetFacilityLimit),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func projectionRowColumns() []string {
	return []string{
		"account_id",
		"account_balance",
		"account_available",
		"updated_at",
	}
}
