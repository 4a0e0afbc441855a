package store

import (
	"database/sql"
	"fmt"
)

// scanPendingAction scans a PendingAction from sql.Rows.
func scanPendingAction(rows *sql.Rows) (PendingAction, error) {
	var a PendingAction
	var nextAttemptAt sql.NullTime
	var lastError sql.NullString
	err := rows.Scan(
		&a.ID, &a.PayloadJSON, &a.Status, &a.Attempts,
		&nextAttemptAt, &lastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan pending action failed: %w", err)
	}
	a.LastError = lastError.String
	if nextAttemptAt.Valid {
		a.NextAttemptAt = &nextAttemptAt.Time
	}
	return a, nil
}
