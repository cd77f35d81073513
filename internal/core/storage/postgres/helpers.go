package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aevon-lab/balance-stream/internal/core/storage"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanProjectionRow works with both sql.Row and sql.Rows.
func scanProjectionRow(row scanner) (*storage.AccountProjection, error) {
	var p storage.AccountProjection
	err := row.Scan(
		&p.AccountID,
		&p.AccountBalance,
		&p.AccountAvailable,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan projection row: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
