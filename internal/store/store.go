// Package store is the persistence facade (C2): one typed accessor per
// entity, composed onto a single handle instead of one big dynamic factory.
// Accessors for soft-deletable entities default their reads to
// deleted_at IS NULL. An include-deleted read exists only for stacks
// (StackStore.ByIDIncludeDeleted) and deployment objects
// (DeploymentObjectStore.ListForStack's includeDeleted flag); the other
// accessors have none. Every write goes through parameterized SQL on a
// bounded pgxpool.Pool.
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx, and *pgxpool.Conn, so accessors
// can run either directly against the pool or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Storage is the persistence facade handle. Tenant isolation (when
// configured) is a property of the handle — every accessor qualifies its
// table names with the configured schema — rather than a mutable per-
// connection search_path, so pooled connections can never leak a schema
// across tenants.
type Storage struct {
	Pool *pgxpool.Pool

	Principals       *PrincipalStore
	Stacks           *StackStore
	DeploymentObjects *DeploymentObjectStore
	Agents           *AgentStore
	AgentTargets     *AgentTargetStore
	AgentEvents      *AgentEventStore
	WorkOrders       *WorkOrderStore
	WorkOrderLog     *WorkOrderLogStore
	WebhookSubs      *WebhookSubscriptionStore
	WebhookDeliveries *WebhookDeliveryStore
	Audit            *AuditStore
	DiagnosticRequests *DiagnosticRequestStore
}

// New creates a Storage handle. schema may be empty (public schema) or a
// name matching ^[A-Za-z][A-Za-z0-9_]*$.
func New(pool *pgxpool.Pool, schema string) (*Storage, error) {
	if schema != "" && !schemaNamePattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid tenant schema name %q", schema)
	}

	t := func(name string) string { return qualify(schema, name) }

	return &Storage{
		Pool:              pool,
		Principals:        &PrincipalStore{db: pool, table: t("principals")},
		Stacks:            &StackStore{db: pool, table: t("stacks")},
		DeploymentObjects: &DeploymentObjectStore{db: pool, table: t("deployment_objects"), provTable: t("deployment_object_provenance"), stacksTable: t("stacks")},
		Agents:            &AgentStore{db: pool, table: t("agents")},
		AgentTargets:      &AgentTargetStore{db: pool, table: t("agent_targets")},
		AgentEvents:       &AgentEventStore{db: pool, table: t("agent_events")},
		WorkOrders:        &WorkOrderStore{db: pool, table: t("work_orders")},
		WorkOrderLog:      &WorkOrderLogStore{db: pool, table: t("work_order_log")},
		WebhookSubs:       &WebhookSubscriptionStore{db: pool, table: t("webhook_subscriptions")},
		WebhookDeliveries: &WebhookDeliveryStore{db: pool, table: t("webhook_deliveries")},
		Audit:             &AuditStore{db: pool, table: t("audit_entries")},
		DiagnosticRequests: &DiagnosticRequestStore{db: pool, table: t("diagnostic_requests")},
	}, nil
}

// qualify returns a safely-quoted, schema-qualified table name. schema has
// already been validated against schemaNamePattern by the caller.
func qualify(schema, name string) string {
	if schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{schema, name}.Sanitize()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Used for the multi-statement transactional
// boundaries called out in spec §4.2 (soft-delete cascade, hard-delete
// cascade) and for sequence-assigning appends, work-order completion and
// webhook batch claims. The transaction runs at the database's default
// isolation level; the single-statement work-order claim does not use it.
func (s *Storage) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
