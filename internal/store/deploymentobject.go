package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeploymentObject is an immutable, sequence-ordered payload within a stack.
type DeploymentObject struct {
	ID               uuid.UUID
	StackID          uuid.UUID
	Sequence         int64
	Payload          string
	Digest           string
	IsDeletionMarker bool
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

const deploymentObjectColumns = `id, stack_id, sequence, payload, digest, is_deletion_marker, created_at, deleted_at`

// DeploymentObjectStore is the typed accessor for deployment objects (C4).
type DeploymentObjectStore struct {
	db          DBTX
	table       string
	provTable   string
	stacksTable string
}

func (s *DeploymentObjectStore) scan(row pgx.Row) (DeploymentObject, error) {
	var d DeploymentObject
	err := row.Scan(&d.ID, &d.StackID, &d.Sequence, &d.Payload, &d.Digest, &d.IsDeletionMarker, &d.CreatedAt, &d.DeletedAt)
	return d, err
}

// Digest computes the lowercase hex SHA-256 digest of a payload.
func Digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Append assigns the next sequence number for stackID inside tx and inserts
// the object. It first locks the owning stacks row with a plain
// SELECT ... FOR UPDATE (Postgres rejects FOR UPDATE combined with an
// aggregate), then computes MAX(sequence)+1 in a second, non-locking
// statement — serialized against concurrent appenders by the stack-row lock
// held for the rest of the transaction.
func (s *DeploymentObjectStore) Append(ctx context.Context, tx DBTX, stackID uuid.UUID, payload string, digest string, deletionMarker bool) (DeploymentObject, error) {
	if digest == "" {
		digest = Digest(payload)
	}

	lockQuery := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1 FOR UPDATE`, s.stacksTable)
	var discard int
	if err := tx.QueryRow(ctx, lockQuery, stackID).Scan(&discard); err != nil {
		return DeploymentObject{}, fmt.Errorf("locking stack row: %w", err)
	}

	var nextSeq int64
	seqQuery := fmt.Sprintf(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM %s WHERE stack_id = $1`, s.table)
	if err := tx.QueryRow(ctx, seqQuery, stackID).Scan(&nextSeq); err != nil {
		return DeploymentObject{}, fmt.Errorf("assigning sequence: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (stack_id, sequence, payload, digest, is_deletion_marker)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, s.table, deploymentObjectColumns)
	obj, err := s.scan(tx.QueryRow(ctx, query, stackID, nextSeq, payload, digest, deletionMarker))
	if err != nil {
		return DeploymentObject{}, fmt.Errorf("appending deployment object: %w", err)
	}
	return obj, nil
}

// SoftDeleteAllForStack sets deleted_at on every live deployment object of a
// stack. Called inside the soft-delete-stack transaction, before the
// deletion-marker append (the marker itself stays live).
func (s *DeploymentObjectStore) SoftDeleteAllForStack(ctx context.Context, tx DBTX, stackID uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now() WHERE stack_id = $1 AND deleted_at IS NULL`, s.table)
	_, err := tx.Exec(ctx, query, stackID)
	if err != nil {
		return fmt.Errorf("soft-deleting deployment objects: %w", err)
	}
	return nil
}

// DeleteAllForStack permanently removes every deployment object of a stack.
// Used by the hard-delete-stack cascade.
func (s *DeploymentObjectStore) DeleteAllForStack(ctx context.Context, tx DBTX, stackID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE stack_id = $1`, s.table)
	_, err := tx.Exec(ctx, query, stackID)
	if err != nil {
		return fmt.Errorf("deleting deployment objects: %w", err)
	}
	return nil
}

// ListForStack returns sequence-ordered, non-deleted objects for a stack.
func (s *DeploymentObjectStore) ListForStack(ctx context.Context, stackID uuid.UUID, includeDeleted bool) ([]DeploymentObject, error) {
	var query string
	if includeDeleted {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE stack_id = $1 ORDER BY sequence`, deploymentObjectColumns, s.table)
	} else {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE stack_id = $1 AND deleted_at IS NULL ORDER BY sequence`, deploymentObjectColumns, s.table)
	}
	rows, err := s.db.Query(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment objects: %w", err)
	}
	return scanDeploymentObjectRows(rows)
}

func scanDeploymentObjectRows(rows pgx.Rows) ([]DeploymentObject, error) {
	defer rows.Close()
	var items []DeploymentObject
	for rows.Next() {
		var d DeploymentObject
		if err := rows.Scan(&d.ID, &d.StackID, &d.Sequence, &d.Payload, &d.Digest, &d.IsDeletionMarker, &d.CreatedAt, &d.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning deployment object row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// TargetStateForAgent implements §4.4's target_state_for_agent: for each
// stack in the agent's agent_targets, the sequence-ordered deployment
// objects whose sequence is strictly greater than the agent's cursor for
// that stack (the highest sequence for which the agent has reported an
// agent_event). Requires the qualified names of the agent_targets and
// agent_events tables, which the caller (AgentTargetStore-aware facade)
// supplies since this accessor only owns deployment_objects.
func (s *DeploymentObjectStore) TargetStateForAgent(ctx context.Context, agentTargetsTable, agentEventsTable string, agentID uuid.UUID) ([]DeploymentObject, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s d
		JOIN %s t ON t.stack_id = d.stack_id AND t.agent_id = $1 AND t.deleted_at IS NULL
		WHERE d.deleted_at IS NULL
		AND d.sequence > COALESCE((
			SELECT MAX(cursor_obj.sequence)
			FROM %s e
			JOIN %s cursor_obj ON cursor_obj.id = e.deployment_object_id
			WHERE e.agent_id = $1 AND cursor_obj.stack_id = d.stack_id
		), 0)
		ORDER BY d.stack_id, d.sequence`,
		columnsWithAlias(deploymentObjectColumns, "d"), s.table, agentTargetsTable, agentEventsTable, s.table)

	rows, err := s.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("computing target state: %w", err)
	}
	return scanDeploymentObjectRows(rows)
}

// RecordProvenance inserts the template-instantiation provenance row for a
// deployment object created via append_from_template.
func (s *DeploymentObjectStore) RecordProvenance(ctx context.Context, tx DBTX, deploymentObjectID uuid.UUID, templateID string, templateVersion string, paramsJSON []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (deployment_object_id, template_id, template_version, params_json)
		VALUES ($1, $2, $3, $4)`, s.provTable)
	_, err := tx.Exec(ctx, query, deploymentObjectID, templateID, templateVersion, paramsJSON)
	if err != nil {
		return fmt.Errorf("recording template provenance: %w", err)
	}
	return nil
}

// columnsWithAlias prefixes each column in a comma-separated list with a
// table alias, e.g. "id, name" -> "d.id, d.name".
func columnsWithAlias(columns, alias string) string {
	out := ""
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}
