package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PrincipalKind distinguishes the three kinds of credentialed caller.
type PrincipalKind string

const (
	PrincipalAdmin     PrincipalKind = "ADMIN"
	PrincipalGenerator PrincipalKind = "GENERATOR"
	PrincipalAgent     PrincipalKind = "AGENT"
)

// Principal is a credentialed caller: an Admin, a Generator, or an Agent.
// Labels/annotations are meaningful for Agent principals only; for a
// Generator they're left empty (identity is just an owner tag).
type Principal struct {
	ID          uuid.UUID
	Kind        PrincipalKind
	Name        string
	ShortToken  string
	LongDigest  string
	Labels      map[string]string
	Annotations map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

const principalColumns = `id, kind, name, short_token, long_digest, labels, annotations, created_at, updated_at, deleted_at`

// PrincipalStore is the typed accessor for principals.
type PrincipalStore struct {
	db    DBTX
	table string
}

func (s *PrincipalStore) scan(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(&p.ID, &p.Kind, &p.Name, &p.ShortToken, &p.LongDigest, &p.Labels, &p.Annotations, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

// Create inserts a new principal with its initial credential.
func (s *PrincipalStore) Create(ctx context.Context, kind PrincipalKind, name, shortToken, longDigest string) (Principal, error) {
	query := fmt.Sprintf(`INSERT INTO %s (kind, name, short_token, long_digest, labels, annotations)
		VALUES ($1, $2, $3, $4, '{}', '{}')
		RETURNING %s`, s.table, principalColumns)
	row := s.db.QueryRow(ctx, query, kind, name, shortToken, longDigest)
	p, err := s.scan(row)
	if err != nil {
		return Principal{}, fmt.Errorf("creating principal: %w", err)
	}
	return p, nil
}

// ByID fetches a non-deleted principal by id.
func (s *PrincipalStore) ByID(ctx context.Context, id uuid.UUID) (Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`, principalColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// ByShortToken looks up a principal by its indexed short token. This is the
// authentication hot path: the backing partial index excludes soft-deleted
// rows so the lookup stays O(1) regardless of churn.
func (s *PrincipalStore) ByShortToken(ctx context.Context, shortToken string) (Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE short_token = $1 AND deleted_at IS NULL`, principalColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, shortToken))
}

// UpdateCredential atomically supersedes short_token/long_digest (used by Rotate).
func (s *PrincipalStore) UpdateCredential(ctx context.Context, id uuid.UUID, shortToken, longDigest string) (Principal, error) {
	query := fmt.Sprintf(`UPDATE %s SET short_token = $2, long_digest = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, principalColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, shortToken, longDigest))
}

// SetLabels replaces an agent principal's label set.
func (s *PrincipalStore) SetLabels(ctx context.Context, id uuid.UUID, labels map[string]string) (Principal, error) {
	query := fmt.Sprintf(`UPDATE %s SET labels = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, principalColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, labels))
}

// SetAnnotations replaces an agent principal's annotation map.
func (s *PrincipalStore) SetAnnotations(ctx context.Context, id uuid.UUID, annotations map[string]string) (Principal, error) {
	query := fmt.Sprintf(`UPDATE %s SET annotations = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, principalColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, annotations))
}

// List returns non-deleted principals of the given kind.
func (s *PrincipalStore) List(ctx context.Context, kind PrincipalKind) ([]Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE kind = $1 AND deleted_at IS NULL ORDER BY created_at`, principalColumns, s.table)
	rows, err := s.db.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	return s.scanRows(rows)
}

func (s *PrincipalStore) scanRows(rows pgx.Rows) ([]Principal, error) {
	defer rows.Close()
	var items []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Kind, &p.Name, &p.ShortToken, &p.LongDigest, &p.Labels, &p.Annotations, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning principal row: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// SoftDelete marks a principal deleted, invalidating its credential for auth lookups.
func (s *PrincipalStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.table)
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft-deleting principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
