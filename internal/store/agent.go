package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AgentStatus is the agent's reported liveness state.
type AgentStatus string

const (
	AgentActive   AgentStatus = "ACTIVE"
	AgentInactive AgentStatus = "INACTIVE"
)

// Agent is identified by (name, cluster_name) and carries the labels and
// annotations the targeting engine matches against.
type Agent struct {
	ID            uuid.UUID
	PrincipalID   uuid.UUID
	Name          string
	ClusterName   string
	Status        AgentStatus
	LastHeartbeat *time.Time
	Labels        map[string]string
	Annotations   map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

const agentColumns = `id, principal_id, name, cluster_name, status, last_heartbeat, labels, annotations, created_at, updated_at, deleted_at`

// AgentStore is the typed accessor for agents.
type AgentStore struct {
	db    DBTX
	table string
}

func (s *AgentStore) scan(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.PrincipalID, &a.Name, &a.ClusterName, &a.Status, &a.LastHeartbeat, &a.Labels, &a.Annotations, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return a, err
}

// Create registers a new agent, unique on (name, cluster_name).
func (s *AgentStore) Create(ctx context.Context, principalID uuid.UUID, name, clusterName string, labels, annotations map[string]string) (Agent, error) {
	if labels == nil {
		labels = map[string]string{}
	}
	if annotations == nil {
		annotations = map[string]string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (principal_id, name, cluster_name, status, labels, annotations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, s.table, agentColumns)
	return s.scan(s.db.QueryRow(ctx, query, principalID, name, clusterName, AgentInactive, labels, annotations))
}

// ByID fetches a non-deleted agent by id.
func (s *AgentStore) ByID(ctx context.Context, id uuid.UUID) (Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`, agentColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// ByPrincipalID fetches the agent owned by a given principal.
func (s *AgentStore) ByPrincipalID(ctx context.Context, principalID uuid.UUID) (Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE principal_id = $1 AND deleted_at IS NULL`, agentColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, principalID))
}

// List returns all non-deleted agents.
func (s *AgentStore) List(ctx context.Context) ([]Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted_at IS NULL ORDER BY created_at`, agentColumns, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var items []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.PrincipalID, &a.Name, &a.ClusterName, &a.Status, &a.LastHeartbeat, &a.Labels, &a.Annotations, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// SetLabels replaces an agent's labels.
func (s *AgentStore) SetLabels(ctx context.Context, id uuid.UUID, labels map[string]string) (Agent, error) {
	query := fmt.Sprintf(`UPDATE %s SET labels = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, agentColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, labels))
}

// SetAnnotations replaces an agent's annotations.
func (s *AgentStore) SetAnnotations(ctx context.Context, id uuid.UUID, annotations map[string]string) (Agent, error) {
	query := fmt.Sprintf(`UPDATE %s SET annotations = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, agentColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, annotations))
}

// Heartbeat marks the agent ACTIVE and bumps last_heartbeat.
func (s *AgentStore) Heartbeat(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, last_heartbeat = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.table)
	_, err := s.db.Exec(ctx, query, id, AgentActive)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// SoftDelete marks the agent deleted (its targets must be cascaded by the caller).
func (s *AgentStore) SoftDelete(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.table)
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft-deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HardDelete permanently removes an agent row. Dependent rows
// (agent_targets, agent_events) must be removed first in the same tx.
func (s *AgentStore) HardDelete(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("hard-deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
