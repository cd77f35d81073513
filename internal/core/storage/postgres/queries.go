package postgres

// SQL for the account projection and facility reference tables.
// Rows in account_projection are created by the daily transactional
// calculation; this package only updates the real-time preview columns.

const (
	// queryUpdateRealtimeBalance touches an existing row only. Zero rows
	// affected means the account has no projection row yet.
	queryUpdateRealtimeBalance = `
		UPDATE account_projection
		SET account_balance = $1,
		    account_available = $2,
		    updated_at = $3
		WHERE account_id = $4
	`

	queryGetAccountProjection = `
		SELECT account_id, account_balance, account_available, updated_at
		FROM account_projection
		WHERE account_id = $1
	`

	queryGetFacilityLimit = `
		SELECT facility_limit
		FROM facility
		WHERE facility_id = $1
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`
)

// requiredTables must exist before the adapter will start.
var requiredTables = []string{"account_projection", "facility"}
