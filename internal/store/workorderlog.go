package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkOrderLogEntry records the terminal outcome of a work order after it
// leaves the active work_orders table.
type WorkOrderLogEntry struct {
	OriginalID    uuid.UUID
	WorkType      string
	Success       bool
	ResultMessage string
	CompletedBy   *uuid.UUID
	RetryCount    int
	CompletedAt   time.Time
}

const workOrderLogColumns = `original_id, work_type, success, result_message, completed_by, retry_count, completed_at`

// WorkOrderLogStore is the typed accessor for work_order_log.
type WorkOrderLogStore struct {
	db    DBTX
	table string
}

// Create inserts the terminal-outcome row. Called inside the same
// transaction as WorkOrderStore.Delete so the move is atomic.
func (s *WorkOrderLogStore) Create(ctx context.Context, tx DBTX, original WorkOrder, success bool, resultMessage string, completedBy *uuid.UUID) (WorkOrderLogEntry, error) {
	query := fmt.Sprintf(`INSERT INTO %s (original_id, work_type, success, result_message, completed_by, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, s.table, workOrderLogColumns)
	row := tx.QueryRow(ctx, query, original.ID, original.WorkType, success, resultMessage, completedBy, original.RetryCount)

	var e WorkOrderLogEntry
	if err := row.Scan(&e.OriginalID, &e.WorkType, &e.Success, &e.ResultMessage, &e.CompletedBy, &e.RetryCount, &e.CompletedAt); err != nil {
		return WorkOrderLogEntry{}, fmt.Errorf("recording work order log entry: %w", err)
	}
	return e, nil
}

// ByOriginalID fetches the terminal record for a work order, if any.
func (s *WorkOrderLogStore) ByOriginalID(ctx context.Context, originalID uuid.UUID) (WorkOrderLogEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE original_id = $1`, workOrderLogColumns, s.table)
	row := s.db.QueryRow(ctx, query, originalID)
	var e WorkOrderLogEntry
	err := row.Scan(&e.OriginalID, &e.WorkType, &e.Success, &e.ResultMessage, &e.CompletedBy, &e.RetryCount, &e.CompletedAt)
	return e, err
}
