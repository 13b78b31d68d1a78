package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DiagnosticStatus is the lifecycle state of an agent-side diagnostic
// request (e.g. "collect logs", "describe pod") dispatched out-of-band
// from the regular work-order queue.
type DiagnosticStatus string

const (
	DiagnosticPending   DiagnosticStatus = "PENDING"
	DiagnosticCompleted DiagnosticStatus = "COMPLETED"
	DiagnosticExpired   DiagnosticStatus = "EXPIRED"
)

// DiagnosticRequest is a short-lived, deadline-bound request for diagnostic
// data from an agent, with its result retained for a bounded window.
type DiagnosticRequest struct {
	ID         uuid.UUID
	AgentID    uuid.UUID
	Kind       string
	Status     DiagnosticStatus
	Deadline   time.Time
	Result     []byte
	ResultAt   *time.Time
	CreatedAt  time.Time
}

const diagnosticRequestColumns = `id, agent_id, kind, status, deadline, result, result_at, created_at`

// DiagnosticRequestStore is the typed accessor for diagnostic_requests.
type DiagnosticRequestStore struct {
	db    DBTX
	table string
}

func (s *DiagnosticRequestStore) scan(row pgx.Row) (DiagnosticRequest, error) {
	var d DiagnosticRequest
	err := row.Scan(&d.ID, &d.AgentID, &d.Kind, &d.Status, &d.Deadline, &d.Result, &d.ResultAt, &d.CreatedAt)
	return d, err
}

// Create inserts a new PENDING diagnostic request with the given deadline.
func (s *DiagnosticRequestStore) Create(ctx context.Context, agentID uuid.UUID, kind string, deadline time.Time) (DiagnosticRequest, error) {
	query := fmt.Sprintf(`INSERT INTO %s (agent_id, kind, status, deadline)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, s.table, diagnosticRequestColumns)
	return s.scan(s.db.QueryRow(ctx, query, agentID, kind, DiagnosticPending, deadline))
}

// Complete records the agent's result for a still-pending request.
func (s *DiagnosticRequestStore) Complete(ctx context.Context, id uuid.UUID, result []byte) (DiagnosticRequest, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, result = $3, result_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s`, s.table, diagnosticRequestColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, DiagnosticCompleted, result))
}

// ExpirePastDeadline transitions PENDING requests past their deadline to
// EXPIRED. Returns the count expired — half of the 15m diagnostics sweep.
func (s *DiagnosticRequestStore) ExpirePastDeadline(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = 'EXPIRED' WHERE status = 'PENDING' AND deadline < now()`, s.table)
	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("expiring diagnostic requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteResultsOlderThan removes completed/expired requests past the
// result retention window — the other half of the sweep.
func (s *DiagnosticRequestStore) DeleteResultsOlderThan(ctx context.Context, retentionHours int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status IN ('COMPLETED', 'EXPIRED') AND created_at < now() - ($1 || ' hours')::interval`, s.table)
	tag, err := s.db.Exec(ctx, query, retentionHours)
	if err != nil {
		return 0, fmt.Errorf("sweeping diagnostic requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ByAgent returns diagnostic requests for an agent, most recent first.
func (s *DiagnosticRequestStore) ByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]DiagnosticRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, diagnosticRequestColumns, s.table)
	rows, err := s.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing diagnostic requests: %w", err)
	}
	defer rows.Close()

	var items []DiagnosticRequest
	for rows.Next() {
		var d DiagnosticRequest
		if err := rows.Scan(&d.ID, &d.AgentID, &d.Kind, &d.Status, &d.Deadline, &d.Result, &d.ResultAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning diagnostic request row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
