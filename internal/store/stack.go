package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Stack is a named, generator-owned unit of deployment-object history.
type Stack struct {
	ID          uuid.UUID
	Name        string
	OwnerID     uuid.UUID
	Labels      []string
	Annotations map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

const stackColumns = `id, name, owner_id, labels, annotations, created_at, updated_at, deleted_at`

// StackStore is the typed accessor for stacks.
type StackStore struct {
	db    DBTX
	table string
}

func (s *StackStore) scan(row pgx.Row) (Stack, error) {
	var st Stack
	err := row.Scan(&st.ID, &st.Name, &st.OwnerID, &st.Labels, &st.Annotations, &st.CreatedAt, &st.UpdatedAt, &st.DeletedAt)
	return st, err
}

// Create inserts a new stack owned by ownerID (a Generator principal).
func (s *StackStore) Create(ctx context.Context, tx DBTX, name string, ownerID uuid.UUID, labels []string, annotations map[string]string) (Stack, error) {
	if labels == nil {
		labels = []string{}
	}
	if annotations == nil {
		annotations = map[string]string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (name, owner_id, labels, annotations)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, s.table, stackColumns)
	return s.scan(tx.QueryRow(ctx, query, name, ownerID, labels, annotations))
}

// ByID fetches a non-deleted stack by id.
func (s *StackStore) ByID(ctx context.Context, id uuid.UUID) (Stack, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`, stackColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// ByIDIncludeDeleted fetches a stack regardless of its soft-delete state.
func (s *StackStore) ByIDIncludeDeleted(ctx context.Context, id uuid.UUID) (Stack, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, stackColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// List returns non-deleted stacks, optionally owned by a specific generator.
func (s *StackStore) List(ctx context.Context, ownerID *uuid.UUID) ([]Stack, error) {
	var rows pgx.Rows
	var err error
	if ownerID != nil {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at`, stackColumns, s.table)
		rows, err = s.db.Query(ctx, query, *ownerID)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted_at IS NULL ORDER BY created_at`, stackColumns, s.table)
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	defer rows.Close()

	var items []Stack
	for rows.Next() {
		var st Stack
		if err := rows.Scan(&st.ID, &st.Name, &st.OwnerID, &st.Labels, &st.Annotations, &st.CreatedAt, &st.UpdatedAt, &st.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning stack row: %w", err)
		}
		items = append(items, st)
	}
	return items, rows.Err()
}

// SetLabels replaces a stack's label set within tx.
func (s *StackStore) SetLabels(ctx context.Context, tx DBTX, id uuid.UUID, labels []string) (Stack, error) {
	query := fmt.Sprintf(`UPDATE %s SET labels = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, stackColumns)
	return s.scan(tx.QueryRow(ctx, query, id, labels))
}

// SetAnnotations replaces a stack's annotation map within tx.
func (s *StackStore) SetAnnotations(ctx context.Context, tx DBTX, id uuid.UUID, annotations map[string]string) (Stack, error) {
	query := fmt.Sprintf(`UPDATE %s SET annotations = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, stackColumns)
	return s.scan(tx.QueryRow(ctx, query, id, annotations))
}

// MarkDeleted sets deleted_at on the stack itself. Called inside the
// soft-delete-stack transaction alongside cascading the deployment objects
// and appending a deletion marker (see DeploymentObjectStore.SoftDeleteAllForStack
// and DeploymentObjectStore.Append).
func (s *StackStore) MarkDeleted(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.table)
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft-deleting stack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HardDelete permanently removes a stack row. Callers must first remove
// dependent rows (agent_targets, deployment_objects) in the same transaction.
func (s *StackStore) HardDelete(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("hard-deleting stack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
