package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookSubscription is a registered endpoint interested in a set of
// event-type patterns. url and auth_header are stored as versioned
// authenticated ciphertext (C10); this accessor never decrypts them.
type WebhookSubscription struct {
	ID                   uuid.UUID
	Name                 string
	URLCiphertext        string
	AuthHeaderCiphertext string
	EventPatterns        []string
	Enabled              bool
	MaxRetries           int
	TimeoutSeconds       int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

const webhookSubscriptionColumns = `id, name, url_ciphertext, auth_header_ciphertext, event_patterns, enabled, max_retries, timeout_seconds, created_at, updated_at, deleted_at`

// WebhookSubscriptionStore is the typed accessor for webhook_subscriptions.
type WebhookSubscriptionStore struct {
	db    DBTX
	table string
}

func (s *WebhookSubscriptionStore) scan(row pgx.Row) (WebhookSubscription, error) {
	var w WebhookSubscription
	err := row.Scan(&w.ID, &w.Name, &w.URLCiphertext, &w.AuthHeaderCiphertext, &w.EventPatterns, &w.Enabled,
		&w.MaxRetries, &w.TimeoutSeconds, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt)
	return w, err
}

// Create registers a new webhook subscription.
func (s *WebhookSubscriptionStore) Create(ctx context.Context, name, urlCiphertext, authHeaderCiphertext string, patterns []string, maxRetries, timeoutSeconds int) (WebhookSubscription, error) {
	query := fmt.Sprintf(`INSERT INTO %s (name, url_ciphertext, auth_header_ciphertext, event_patterns, enabled, max_retries, timeout_seconds)
		VALUES ($1, $2, $3, $4, true, $5, $6)
		RETURNING %s`, s.table, webhookSubscriptionColumns)
	return s.scan(s.db.QueryRow(ctx, query, name, urlCiphertext, authHeaderCiphertext, patterns, maxRetries, timeoutSeconds))
}

// ByID fetches a non-deleted subscription.
func (s *WebhookSubscriptionStore) ByID(ctx context.Context, id uuid.UUID) (WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`, webhookSubscriptionColumns, s.table)
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// ListEnabled returns every enabled, non-deleted subscription — the
// candidate set the event bus dispatcher matches patterns against.
func (s *WebhookSubscriptionStore) ListEnabled(ctx context.Context) ([]WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE enabled AND deleted_at IS NULL`, webhookSubscriptionColumns, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing enabled webhook subscriptions: %w", err)
	}
	return s.scanRows(rows)
}

// List returns a page of non-deleted subscriptions, most recently created
// first.
func (s *WebhookSubscriptionStore) List(ctx context.Context, limit, offset int) ([]WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`, webhookSubscriptionColumns, s.table)
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	return s.scanRows(rows)
}

// Count returns the total number of non-deleted subscriptions, for the list
// endpoint's pagination envelope.
func (s *WebhookSubscriptionStore) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE deleted_at IS NULL`, s.table)
	var n int
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting webhook subscriptions: %w", err)
	}
	return n, nil
}

func (s *WebhookSubscriptionStore) scanRows(rows pgx.Rows) ([]WebhookSubscription, error) {
	defer rows.Close()
	var items []WebhookSubscription
	for rows.Next() {
		var w WebhookSubscription
		if err := rows.Scan(&w.ID, &w.Name, &w.URLCiphertext, &w.AuthHeaderCiphertext, &w.EventPatterns, &w.Enabled,
			&w.MaxRetries, &w.TimeoutSeconds, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook subscription row: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// Update replaces the mutable fields of a subscription.
func (s *WebhookSubscriptionStore) Update(ctx context.Context, id uuid.UUID, name string, patterns []string, enabled bool, maxRetries, timeoutSeconds int) (WebhookSubscription, error) {
	query := fmt.Sprintf(`UPDATE %s SET name = $2, event_patterns = $3, enabled = $4, max_retries = $5, timeout_seconds = $6, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, s.table, webhookSubscriptionColumns)
	return s.scan(s.db.QueryRow(ctx, query, id, name, patterns, enabled, maxRetries, timeoutSeconds))
}

// SoftDelete marks a subscription deleted; it stops matching new events.
func (s *WebhookSubscriptionStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.table)
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft-deleting webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
