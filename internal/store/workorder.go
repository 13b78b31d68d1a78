package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WorkOrderStatus is one of the three states a work order occupies while
// active; terminal states leave the active table for WorkOrderLog.
type WorkOrderStatus string

const (
	WorkOrderPending      WorkOrderStatus = "PENDING"
	WorkOrderClaimed      WorkOrderStatus = "CLAIMED"
	WorkOrderRetryPending WorkOrderStatus = "RETRY_PENDING"
)

// Targeting is the union of matchers a work order (or, separately, a
// deployment) can carry: explicit agent ids, ANY-match labels, ANY-match
// annotations. An empty Targeting matches any agent.
type Targeting struct {
	AgentIDs    []uuid.UUID `json:"agent_ids,omitempty"`
	Labels      []string    `json:"labels,omitempty"`
	Annotations []string    `json:"annotations,omitempty"`
}

// WorkOrder is a one-shot task dispatched to an eligible agent.
type WorkOrder struct {
	ID                  uuid.UUID
	WorkType            string
	Payload             []byte
	Targeting           Targeting
	Status              WorkOrderStatus
	RetryCount          int
	MaxRetries          int
	BackoffSeconds      int
	ClaimTimeoutSeconds int
	ClaimedBy           *uuid.UUID
	ClaimedAt           *time.Time
	NextEligibleAt      *time.Time
	LastError           *string
	LastErrorAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const workOrderColumns = `id, work_type, payload, targeting, status, retry_count, max_retries, backoff_seconds, claim_timeout_seconds, claimed_by, claimed_at, next_eligible_at, last_error, last_error_at, created_at, updated_at`

// WorkOrderStore is the typed accessor for work_orders (C5).
type WorkOrderStore struct {
	db    DBTX
	table string
}

func (s *WorkOrderStore) scan(row pgx.Row) (WorkOrder, error) {
	var w WorkOrder
	err := row.Scan(&w.ID, &w.WorkType, &w.Payload, &w.Targeting, &w.Status, &w.RetryCount, &w.MaxRetries,
		&w.BackoffSeconds, &w.ClaimTimeoutSeconds, &w.ClaimedBy, &w.ClaimedAt, &w.NextEligibleAt,
		&w.LastError, &w.LastErrorAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (s *WorkOrderStore) scanRows(rows pgx.Rows) ([]WorkOrder, error) {
	defer rows.Close()
	var items []WorkOrder
	for rows.Next() {
		var w WorkOrder
		if err := rows.Scan(&w.ID, &w.WorkType, &w.Payload, &w.Targeting, &w.Status, &w.RetryCount, &w.MaxRetries,
			&w.BackoffSeconds, &w.ClaimTimeoutSeconds, &w.ClaimedBy, &w.ClaimedAt, &w.NextEligibleAt,
			&w.LastError, &w.LastErrorAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning work order row: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// Create inserts a new work order in PENDING.
func (s *WorkOrderStore) Create(ctx context.Context, workType string, payload []byte, targeting Targeting, maxRetries, backoffSeconds, claimTimeoutSeconds int) (WorkOrder, error) {
	query := fmt.Sprintf(`INSERT INTO %s (work_type, payload, targeting, status, max_retries, backoff_seconds, claim_timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s`, s.table, workOrderColumns)
	return s.scan(s.db.QueryRow(ctx, query, workType, payload, targeting, WorkOrderPending, maxRetries, backoffSeconds, claimTimeoutSeconds))
}

// ByID fetches a work order by id.
func (s *WorkOrderStore) ByID(ctx context.Context, id uuid.UUID) (WorkOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, workOrderColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// Claim is the single atomic update §4.5 specifies. The caller observes
// success iff a row was returned; pgx.ErrNoRows means another claimer won
// the race or the order is no longer PENDING.
func (s *WorkOrderStore) Claim(ctx context.Context, id, agentID uuid.UUID) (WorkOrder, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = 'CLAIMED', claimed_by = $2, claimed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s`, s.table, workOrderColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, agentID))
}

// PendingFor returns PENDING work orders whose targeting matches the given
// agent: explicit id, OR any label in common, OR any annotation key=value
// in common; empty targeting matches every agent.
func (s *WorkOrderStore) PendingFor(ctx context.Context, agentID uuid.UUID, agentLabels, agentAnnotations []string) ([]WorkOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'PENDING'
		AND (
			(
				jsonb_array_length(COALESCE(targeting->'agent_ids', '[]'::jsonb)) = 0
				AND jsonb_array_length(COALESCE(targeting->'labels', '[]'::jsonb)) = 0
				AND jsonb_array_length(COALESCE(targeting->'annotations', '[]'::jsonb)) = 0
			)
			OR targeting->'agent_ids' @> to_jsonb($1::text)
			OR (targeting->'labels')::jsonb ?| $2
			OR (targeting->'annotations')::jsonb ?| $3
		)
		ORDER BY created_at`, workOrderColumns, s.table)
	rows, err := s.db.Query(ctx, query, agentID.String(), agentLabels, agentAnnotations)
	if err != nil {
		return nil, fmt.Errorf("polling pending work orders: %w", err)
	}
	return s.scanRows(rows)
}

// List returns every active work order, newest first.
func (s *WorkOrderStore) List(ctx context.Context) ([]WorkOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`, workOrderColumns, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing work orders: %w", err)
	}
	return s.scanRows(rows)
}

// Delete removes a work order from the active table. Used by the
// workorder package as the second half of the atomic move-to-log on
// terminal completion (insert into WorkOrderLog, then Delete here, in the
// same transaction).
func (s *WorkOrderStore) Delete(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// EnterRetryPending applies the CLAIMED -> RETRY_PENDING transition:
// retry_count += 1, claimed_by/at cleared, next_eligible_at computed with
// capped exponential backoff.
func (s *WorkOrderStore) EnterRetryPending(ctx context.Context, id uuid.UUID, lastError string, backoffCapSeconds int) (WorkOrder, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = 'RETRY_PENDING',
			retry_count = retry_count + 1,
			claimed_by = NULL,
			claimed_at = NULL,
			next_eligible_at = now() + (LEAST($2::int, backoff_seconds * power(2, retry_count)) || ' seconds')::interval,
			last_error = $3,
			last_error_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'CLAIMED'
		RETURNING %s`, s.table, workOrderColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, backoffCapSeconds, lastError))
}

// ReleaseEligibleRetries moves every RETRY_PENDING row whose
// next_eligible_at has passed back to PENDING. Returns the count.
func (s *WorkOrderStore) ReleaseEligibleRetries(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = 'PENDING', updated_at = now()
		WHERE status = 'RETRY_PENDING' AND next_eligible_at <= now()`, s.table)
	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("releasing eligible retries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReclaimStaleClaims moves CLAIMED rows whose claim has expired back to
// PENDING (the stale-claim sweep). Returns the count reclaimed.
func (s *WorkOrderStore) ReclaimStaleClaims(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE status = 'CLAIMED' AND claimed_at IS NOT NULL
		AND now() - claimed_at > (claim_timeout_seconds || ' seconds')::interval`, s.table)
	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}
