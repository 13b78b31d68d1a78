// Package deploymentlog implements C4: the per-stack, sequence-ordered
// deployment object log, agent target-state resolution, and template-backed
// instantiation.
package deploymentlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/pkg/template"
)

// Log is the facade over the deployment object accessor plus the pieces
// needed for template instantiation.
type Log struct {
	storage  *store.Storage
	renderer *template.Engine
}

// New creates a Log.
func New(storage *store.Storage, renderer *template.Engine) *Log {
	return &Log{storage: storage, renderer: renderer}
}

// Append assigns the next sequence number for stack and inserts a new
// deployment object. Fails with NotFound if the stack does not exist or is
// already soft-deleted.
func (l *Log) Append(ctx context.Context, stackID uuid.UUID, payload string, deletionMarker bool) (store.DeploymentObject, error) {
	var obj store.DeploymentObject
	err := l.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := l.storage.Stacks.ByID(ctx, stackID); err != nil {
			return apierr.Wrap(apierr.NotFound, "stack not found or deleted", err)
		}
		var err error
		obj, err = l.storage.DeploymentObjects.Append(ctx, tx, stackID, payload, "", deletionMarker)
		return err
	})
	if err != nil {
		if ae, ok := apierr.As(err); ok {
			return store.DeploymentObject{}, ae
		}
		return store.DeploymentObject{}, apierr.Wrap(apierr.Internal, "appending deployment object", err)
	}
	return obj, nil
}

// TargetStateForAgent returns the sequence-ordered deployment objects past
// the agent's per-stack cursor.
func (l *Log) TargetStateForAgent(ctx context.Context, agentID uuid.UUID) ([]store.DeploymentObject, error) {
	objs, err := l.storage.DeploymentObjects.TargetStateForAgent(ctx,
		l.storage.AgentTargets.TableName(), l.storage.AgentEvents.TableName(), agentID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "computing target state", err)
	}
	return objs, nil
}

// AppendFromTemplate renders payload from a template, validates params
// against the template's JSON Schema, appends the result, and records
// provenance.
func (l *Log) AppendFromTemplate(ctx context.Context, stackID uuid.UUID, templateID string, params map[string]any) (store.DeploymentObject, error) {
	tmpl, err := l.renderer.Lookup(templateID)
	if err != nil {
		return store.DeploymentObject{}, apierr.Wrap(apierr.NotFound, "template not found", err)
	}

	if errs := tmpl.ValidateParams(params); len(errs) > 0 {
		return store.DeploymentObject{}, apierr.New(apierr.UnprocessableEntity, "template parameter validation failed").
			WithDetail(errs)
	}

	payload, err := tmpl.Render(params)
	if err != nil {
		return store.DeploymentObject{}, apierr.Wrap(apierr.UnprocessableEntity, "rendering template", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return store.DeploymentObject{}, apierr.Wrap(apierr.Internal, "marshaling template params", err)
	}

	var obj store.DeploymentObject
	err = l.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := l.storage.Stacks.ByID(ctx, stackID); err != nil {
			return apierr.Wrap(apierr.NotFound, "stack not found or deleted", err)
		}
		var err error
		obj, err = l.storage.DeploymentObjects.Append(ctx, tx, stackID, payload, "", false)
		if err != nil {
			return fmt.Errorf("appending rendered object: %w", err)
		}
		if err := l.storage.DeploymentObjects.RecordProvenance(ctx, tx, obj.ID, templateID, tmpl.Version, paramsJSON); err != nil {
			return fmt.Errorf("recording provenance: %w", err)
		}
		return nil
	})
	if err != nil {
		if ae, ok := apierr.As(err); ok {
			return store.DeploymentObject{}, ae
		}
		return store.DeploymentObject{}, apierr.Wrap(apierr.Internal, "appending from template", err)
	}
	return obj, nil
}

// SoftDeleteStack performs the transactional soft-delete-stack boundary
// §4.2 specifies: mark the stack deleted, soft-delete its live deployment
// objects, then append a deletion-marker object (which stays live).
func (l *Log) SoftDeleteStack(ctx context.Context, stackID uuid.UUID) (store.DeploymentObject, error) {
	var marker store.DeploymentObject
	err := l.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if err := l.storage.Stacks.MarkDeleted(ctx, tx, stackID); err != nil {
			return fmt.Errorf("marking stack deleted: %w", err)
		}
		if err := l.storage.DeploymentObjects.SoftDeleteAllForStack(ctx, tx, stackID); err != nil {
			return fmt.Errorf("soft-deleting deployment objects: %w", err)
		}
		var err error
		marker, err = l.storage.DeploymentObjects.Append(ctx, tx, stackID, "", "", true)
		if err != nil {
			return fmt.Errorf("appending deletion marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.DeploymentObject{}, apierr.Wrap(apierr.Internal, "soft-deleting stack", err)
	}
	return marker, nil
}

// HardDeleteStack removes a stack and every dependent row in one
// transaction: agent_targets, deployment_objects, then the stack itself.
func (l *Log) HardDeleteStack(ctx context.Context, stackID uuid.UUID) error {
	return l.storage.WithTx(ctx, func(tx pgx.Tx) error {
		if err := l.storage.AgentTargets.RemoveAllForStack(ctx, tx, stackID); err != nil {
			return err
		}
		if err := l.storage.DeploymentObjects.DeleteAllForStack(ctx, tx, stackID); err != nil {
			return err
		}
		return l.storage.Stacks.HardDelete(ctx, tx, stackID)
	})
}
