package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TargetOrigin distinguishes manually-created targeting edges from ones the
// reconciler computed automatically, so reconciliation never removes an
// edge an operator explicitly asked for.
type TargetOrigin string

const (
	OriginExplicit  TargetOrigin = "EXPLICIT"
	OriginAutomatic TargetOrigin = "AUTOMATIC"
)

// AgentTarget is the many-to-many (agent, stack) join the targeting engine
// maintains: the source of truth for which deployment objects an agent
// must fetch.
type AgentTarget struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	StackID   uuid.UUID
	Origin    TargetOrigin
	CreatedAt time.Time
	DeletedAt *time.Time
}

const agentTargetColumns = `id, agent_id, stack_id, origin, created_at, deleted_at`

// AgentTargetStore is the typed accessor for agent_targets.
type AgentTargetStore struct {
	db    DBTX
	table string
}

// TableName exposes the qualified table name for cross-accessor joins
// (DeploymentObjectStore.TargetStateForAgent).
func (s *AgentTargetStore) TableName() string { return s.table }

func (s *AgentTargetStore) scan(row pgx.Row) (AgentTarget, error) {
	var t AgentTarget
	err := row.Scan(&t.ID, &t.AgentID, &t.StackID, &t.Origin, &t.CreatedAt, &t.DeletedAt)
	return t, err
}

// Upsert inserts the (agent, stack) edge if it doesn't exist as a live row,
// or revives a soft-deleted one. Idempotent: used by both explicit_target
// and the automatic reconciler.
func (s *AgentTargetStore) Upsert(ctx context.Context, tx DBTX, agentID, stackID uuid.UUID, origin TargetOrigin) (AgentTarget, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (agent_id, stack_id, origin)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id, stack_id) DO UPDATE SET deleted_at = NULL, origin = CASE
			WHEN %[1]s.origin = 'EXPLICIT' OR EXCLUDED.origin = 'EXPLICIT' THEN 'EXPLICIT'
			ELSE EXCLUDED.origin
		END
		RETURNING %s`, s.table, agentTargetColumns)
	return s.scan(tx.QueryRow(ctx, query, agentID, stackID, origin))
}

// Remove soft-deletes the (agent, stack) edge unless preserveExplicit is true
// and the edge has origin EXPLICIT — automatic reconciliation must never
// retract a manually created target.
func (s *AgentTargetStore) Remove(ctx context.Context, tx DBTX, agentID, stackID uuid.UUID, preserveExplicit bool) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now()
		WHERE agent_id = $1 AND stack_id = $2 AND deleted_at IS NULL`, s.table)
	if preserveExplicit {
		query += ` AND origin != 'EXPLICIT'`
	}
	_, err := tx.Exec(ctx, query, agentID, stackID)
	if err != nil {
		return fmt.Errorf("removing agent target: %w", err)
	}
	return nil
}

// ForAgent returns the live stack ids targeted to an agent.
func (s *AgentTargetStore) ForAgent(ctx context.Context, agentID uuid.UUID) ([]AgentTarget, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE agent_id = $1 AND deleted_at IS NULL`, agentTargetColumns, s.table)
	rows, err := s.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing agent targets for agent: %w", err)
	}
	return s.scanRows(rows)
}

// ForStack returns the live agent ids targeted by a stack.
func (s *AgentTargetStore) ForStack(ctx context.Context, stackID uuid.UUID) ([]AgentTarget, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE stack_id = $1 AND deleted_at IS NULL`, agentTargetColumns, s.table)
	rows, err := s.db.Query(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing agent targets for stack: %w", err)
	}
	return s.scanRows(rows)
}

func (s *AgentTargetStore) scanRows(rows pgx.Rows) ([]AgentTarget, error) {
	defer rows.Close()
	var items []AgentTarget
	for rows.Next() {
		var t AgentTarget
		if err := rows.Scan(&t.ID, &t.AgentID, &t.StackID, &t.Origin, &t.CreatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning agent target row: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// RemoveAllForStack hard-deletes every agent_targets row for a stack. Used
// by the hard-delete-stack cascade.
func (s *AgentTargetStore) RemoveAllForStack(ctx context.Context, tx DBTX, stackID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE stack_id = $1`, s.table)
	_, err := tx.Exec(ctx, query, stackID)
	if err != nil {
		return fmt.Errorf("deleting agent targets for stack: %w", err)
	}
	return nil
}

// RemoveAllForAgent hard-deletes every agent_targets row for an agent. Used
// by agent deletion to cascade the agent's targets.
func (s *AgentTargetStore) RemoveAllForAgent(ctx context.Context, tx DBTX, agentID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE agent_id = $1`, s.table)
	_, err := tx.Exec(ctx, query, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent targets for agent: %w", err)
	}
	return nil
}
