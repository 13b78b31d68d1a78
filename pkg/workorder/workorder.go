// Package workorder implements the business layer of C5 on top of
// internal/store/workorder.go: claim/complete orchestration and the two
// maintenance sweeps the supervisor drives.
package workorder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/internal/telemetry"
)

// Dispatcher orchestrates work-order state transitions.
type Dispatcher struct {
	storage           *store.Storage
	backoffCapSeconds int
}

// New creates a Dispatcher.
func New(storage *store.Storage, backoffCapSeconds int) *Dispatcher {
	return &Dispatcher{storage: storage, backoffCapSeconds: backoffCapSeconds}
}

// Create inserts a new PENDING work order.
func (d *Dispatcher) Create(ctx context.Context, workType string, payload []byte, targeting store.Targeting, maxRetries, backoffSeconds, claimTimeoutSeconds int) (store.WorkOrder, error) {
	wo, err := d.storage.WorkOrders.Create(ctx, workType, payload, targeting, maxRetries, backoffSeconds, claimTimeoutSeconds)
	if err != nil {
		return store.WorkOrder{}, apierr.Wrap(apierr.Internal, "creating work order", err)
	}
	return wo, nil
}

// Cancel removes a PENDING or CLAIMED work order without recording a
// terminal outcome in the log — an operator-initiated cancel, not a
// completion report.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) error {
	err := d.storage.WithTx(ctx, func(tx pgx.Tx) error {
		return d.storage.WorkOrders.Delete(ctx, tx, id)
	})
	if err != nil {
		if err == pgx.ErrNoRows {
			return apierr.New(apierr.NotFound, "work order not found")
		}
		return apierr.Wrap(apierr.Internal, "cancelling work order", err)
	}
	return nil
}

// Claim performs the atomic PENDING->CLAIMED transition on behalf of
// agentID. Returns Conflict when the order was already claimed by a
// concurrent caller or no longer exists in PENDING.
func (d *Dispatcher) Claim(ctx context.Context, id, agentID uuid.UUID) (store.WorkOrder, error) {
	wo, err := d.storage.WorkOrders.Claim(ctx, id, agentID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.WorkOrder{}, apierr.New(apierr.Conflict, "work order already claimed or not pending")
		}
		return store.WorkOrder{}, apierr.Wrap(apierr.Internal, "claiming work order", err)
	}
	telemetry.WorkOrdersClaimedTotal.Inc()
	return wo, nil
}

// PendingFor lists work orders an agent may claim.
func (d *Dispatcher) PendingFor(ctx context.Context, agentID uuid.UUID, agentLabels, agentAnnotations map[string]string) ([]store.WorkOrder, error) {
	labels := make([]string, 0, len(agentLabels))
	for k, v := range agentLabels {
		labels = append(labels, fmt.Sprintf("%s=%s", k, v))
	}
	annotations := make([]string, 0, len(agentAnnotations))
	for k, v := range agentAnnotations {
		annotations = append(annotations, fmt.Sprintf("%s=%s", k, v))
	}
	orders, err := d.storage.WorkOrders.PendingFor(ctx, agentID, labels, annotations)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "polling pending work orders", err)
	}
	return orders, nil
}

// CompleteSuccess reports a successful completion: the order moves to
// Work Order Log atomically.
func (d *Dispatcher) CompleteSuccess(ctx context.Context, id, agentID uuid.UUID, resultMessage string) error {
	wo, err := d.storage.WorkOrders.ByID(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "work order not found", err)
	}
	return d.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := d.storage.WorkOrderLog.Create(ctx, tx, wo, true, resultMessage, &agentID); err != nil {
			return fmt.Errorf("recording log entry: %w", err)
		}
		return d.storage.WorkOrders.Delete(ctx, tx, id)
	})
}

// Retryable is the agent-reported failure classification §4.5 defers to:
// the dispatcher trusts the agent's classification and only validates
// retry_count against max_retries.
type Retryable bool

const (
	FailureRetryable Retryable = true
	FailureTerminal  Retryable = false
)

// CompleteFailure reports a failed completion. A retryable failure under
// the retry ceiling enters RETRY_PENDING; a terminal failure, or a
// retryable one that has exhausted retries, moves to Work Order Log with
// success=false.
func (d *Dispatcher) CompleteFailure(ctx context.Context, id, agentID uuid.UUID, classification Retryable, lastError string) error {
	wo, err := d.storage.WorkOrders.ByID(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "work order not found", err)
	}

	if classification == FailureRetryable && wo.RetryCount < wo.MaxRetries {
		if _, err := d.storage.WorkOrders.EnterRetryPending(ctx, id, lastError, d.backoffCapSeconds); err != nil {
			return apierr.Wrap(apierr.Internal, "entering retry-pending", err)
		}
		telemetry.WorkOrdersRetriedTotal.Inc()
		return nil
	}

	return d.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := d.storage.WorkOrderLog.Create(ctx, tx, wo, false, lastError, &agentID); err != nil {
			return fmt.Errorf("recording log entry: %w", err)
		}
		return d.storage.WorkOrders.Delete(ctx, tx, id)
	})
}

// RunMaintenanceSweep performs the two periodic transitions §4.9 assigns to
// work-order maintenance: releasing eligible retries, and reclaiming stale
// claims. Called by the supervisor on its 10s timer.
func (d *Dispatcher) RunMaintenanceSweep(ctx context.Context) error {
	if _, err := d.storage.WorkOrders.ReleaseEligibleRetries(ctx); err != nil {
		return fmt.Errorf("releasing eligible retries: %w", err)
	}
	reclaimed, err := d.storage.WorkOrders.ReclaimStaleClaims(ctx)
	if err != nil {
		return fmt.Errorf("reclaiming stale claims: %w", err)
	}
	if reclaimed > 0 {
		telemetry.WorkOrdersReclaimedTotal.Add(float64(reclaimed))
	}
	return nil
}
