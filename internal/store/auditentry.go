package store

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is an insert-only record of a security-relevant action.
type AuditEntry struct {
	TS           time.Time
	ActorType    string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	DetailJSON   []byte
}

const auditEntryColumns = `ts, actor_type, actor_id, action, resource_type, resource_id, detail_json`

// AuditStore is the typed accessor for audit_entries (C8).
type AuditStore struct {
	db    DBTX
	table string
}

// InsertBatch inserts many entries as a single multi-row statement, as the
// batching writer's flush does.
func (s *AuditStore) InsertBatch(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES `, s.table, auditEntryColumns)
	args := make([]any, 0, len(entries)*7)
	for i, e := range entries {
		if i > 0 {
			query += ", "
		}
		base := i * 7
		query += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, e.TS, e.ActorType, e.ActorID, e.Action, e.ResourceType, e.ResourceID, e.DetailJSON)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit batch: %w", err)
	}
	return nil
}

// Query filters audit entries by actor kind/id, action prefix, and time
// range, paginated up to 1,000 rows as §6 requires.
type AuditQuery struct {
	ActorType    string
	ActorID      string
	ActionPrefix string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// Query runs a filtered, paginated audit-log query.
func (s *AuditStore) Query(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, auditEntryColumns, s.table)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ActorType != "" {
		query += fmt.Sprintf(" AND actor_type = %s", arg(q.ActorType))
	}
	if q.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = %s", arg(q.ActorID))
	}
	if q.ActionPrefix != "" {
		query += fmt.Sprintf(" AND action LIKE %s", arg(q.ActionPrefix+"%"))
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND ts >= %s", arg(*q.Since))
	}
	if q.Until != nil {
		query += fmt.Sprintf(" AND ts <= %s", arg(*q.Until))
	}

	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT %s OFFSET %s", arg(limit), arg(q.Offset))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var items []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.TS, &e.ActorType, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.DetailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry row: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// Count returns the total number of entries matching q's filters, ignoring
// q.Limit/q.Offset — for the query endpoint's pagination envelope.
func (s *AuditStore) Count(ctx context.Context, q AuditQuery) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE 1=1`, s.table)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ActorType != "" {
		query += fmt.Sprintf(" AND actor_type = %s", arg(q.ActorType))
	}
	if q.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = %s", arg(q.ActorID))
	}
	if q.ActionPrefix != "" {
		query += fmt.Sprintf(" AND action LIKE %s", arg(q.ActionPrefix+"%"))
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND ts >= %s", arg(*q.Since))
	}
	if q.Until != nil {
		query += fmt.Sprintf(" AND ts <= %s", arg(*q.Until))
	}

	var n int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes entries older than the retention window — the
// daily sweep.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE ts < now() - ($1 || ' days')::interval`, s.table)
	tag, err := s.db.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("sweeping audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
