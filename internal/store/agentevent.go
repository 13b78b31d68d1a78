package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentEvent is an append-only outcome an agent reports for a deployment
// object. The highest deployment_object.sequence for which an agent has
// emitted an event is that agent's progress cursor for the object's stack.
type AgentEvent struct {
	ID                 uuid.UUID
	AgentID            uuid.UUID
	DeploymentObjectID uuid.UUID
	EventKind          string
	Status             string
	Detail             []byte
	CreatedAt          time.Time
}

const agentEventColumns = `id, agent_id, deployment_object_id, event_kind, status, detail, created_at`

// AgentEventStore is the typed accessor for agent_events.
type AgentEventStore struct {
	db    DBTX
	table string
}

// TableName exposes the qualified table name for cross-accessor joins.
func (s *AgentEventStore) TableName() string { return s.table }

// Create records an agent's report for a deployment object.
func (s *AgentEventStore) Create(ctx context.Context, agentID, deploymentObjectID uuid.UUID, eventKind, status string, detail []byte) (AgentEvent, error) {
	query := fmt.Sprintf(`INSERT INTO %s (agent_id, deployment_object_id, event_kind, status, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, s.table, agentEventColumns)
	row := s.db.QueryRow(ctx, query, agentID, deploymentObjectID, eventKind, status, detail)
	var e AgentEvent
	if err := row.Scan(&e.ID, &e.AgentID, &e.DeploymentObjectID, &e.EventKind, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
		return AgentEvent{}, fmt.Errorf("recording agent event: %w", err)
	}
	return e, nil
}

// ForAgent returns events reported by an agent, most recent first.
func (s *AgentEventStore) ForAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]AgentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentEventColumns, s.table)
	rows, err := s.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing agent events: %w", err)
	}
	defer rows.Close()

	var items []AgentEvent
	for rows.Next() {
		var e AgentEvent
		if err := rows.Scan(&e.ID, &e.AgentID, &e.DeploymentObjectID, &e.EventKind, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent event row: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// RemoveAllForAgent hard-deletes every agent_events row for an agent. Used
// by the hard-delete-agent cascade.
func (s *AgentEventStore) RemoveAllForAgent(ctx context.Context, tx DBTX, agentID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE agent_id = $1`, s.table)
	_, err := tx.Exec(ctx, query, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent events for agent: %w", err)
	}
	return nil
}
