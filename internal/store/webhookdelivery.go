package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeliveryStatus is the lifecycle state of one webhook delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "PENDING"
	DeliverySuccess  DeliveryStatus = "SUCCESS"
	DeliveryRetrying DeliveryStatus = "RETRYING"
	DeliveryDead     DeliveryStatus = "DEAD"
)

// WebhookDelivery is one event's delivery obligation to one subscription.
type WebhookDelivery struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	EventType      string
	Payload        []byte
	Status         DeliveryStatus
	Attempts       int
	NextAttemptAt  time.Time
	LastError      *string
	CreatedAt      time.Time
}

const webhookDeliveryColumns = `id, subscription_id, event_type, payload, status, attempts, next_attempt_at, last_error, created_at`

// WebhookDeliveryStore is the typed accessor for webhook_deliveries (C7).
type WebhookDeliveryStore struct {
	db    DBTX
	table string
}

func (s *WebhookDeliveryStore) scan(row pgx.Row) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.CreatedAt)
	return d, err
}

// Create inserts a new PENDING delivery row for an emitted event matching a
// subscription's patterns.
func (s *WebhookDeliveryStore) Create(ctx context.Context, subscriptionID uuid.UUID, eventType string, payload []byte) (WebhookDelivery, error) {
	query := fmt.Sprintf(`INSERT INTO %s (subscription_id, event_type, payload, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING %s`, s.table, webhookDeliveryColumns)
	return s.scan(s.db.QueryRow(ctx, query, subscriptionID, eventType, payload, DeliveryPending))
}

// ClaimBatch locks and returns up to batchSize deliveries eligible for an
// attempt (PENDING or RETRYING, next_attempt_at <= now), ordered by
// next_attempt_at, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// broker replicas process disjoint batches. Runs inside tx; the caller
// commits once every delivery in the batch has been updated.
func (s *WebhookDeliveryStore) ClaimBatch(ctx context.Context, tx DBTX, batchSize int) ([]WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status IN ('PENDING', 'RETRYING') AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, webhookDeliveryColumns, s.table)
	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claiming webhook delivery batch: %w", err)
	}
	defer rows.Close()

	var items []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// MarkSuccess records a successful delivery attempt.
func (s *WebhookDeliveryStore) MarkSuccess(ctx context.Context, tx DBTX, id uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'SUCCESS', attempts = attempts + 1 WHERE id = $1`, s.table)
	_, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking webhook delivery success: %w", err)
	}
	return nil
}

// MarkRetry schedules the next attempt with capped exponential backoff, or
// marks the delivery DEAD if attempts have been exhausted.
func (s *WebhookDeliveryStore) MarkRetry(ctx context.Context, tx DBTX, id uuid.UUID, lastError string, maxRetries int, baseBackoffSeconds, capSeconds int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'DEAD' ELSE 'RETRYING' END,
			next_attempt_at = CASE WHEN attempts + 1 >= $3 THEN next_attempt_at
				ELSE now() + (LEAST($4::int, $5 * power(2, attempts)) || ' seconds')::interval END
		WHERE id = $1`, s.table)
	_, err := tx.Exec(ctx, query, id, lastError, maxRetries, capSeconds, baseBackoffSeconds)
	if err != nil {
		return fmt.Errorf("marking webhook delivery retry: %w", err)
	}
	return nil
}

// ForSubscription lists a page of deliveries for a subscription, most
// recent first.
func (s *WebhookDeliveryStore) ForSubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, webhookDeliveryColumns, s.table)
	rows, err := s.db.Query(ctx, query, subscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	defer rows.Close()

	var items []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// CountForSubscription returns the total number of deliveries recorded for
// a subscription, for the deliveries endpoint's pagination envelope.
func (s *WebhookDeliveryStore) CountForSubscription(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE subscription_id = $1`, s.table)
	var n int
	if err := s.db.QueryRow(ctx, query, subscriptionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting webhook deliveries: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes terminal (SUCCESS, DEAD) deliveries older than
// the retention window — the hourly retention sweep.
func (s *WebhookDeliveryStore) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status IN ('SUCCESS', 'DEAD') AND created_at < now() - ($1 || ' days')::interval`, s.table)
	tag, err := s.db.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("sweeping webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
