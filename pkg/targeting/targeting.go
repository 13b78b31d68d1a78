// Package targeting implements C3: reconciling the agent_targets join table
// from stack/agent label-annotation matches, and the explicit manual edges
// that survive automatic reconciliation.
package targeting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
)

// labelSet renders an agent's map[string]string labels into the same
// "key=value" literal tag syntax stack labels are stored as, so the two can
// be compared directly.
func labelSet(labels map[string]string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for k, v := range labels {
		set[fmt.Sprintf("%s=%s", k, v)] = true
	}
	return set
}

// Engine reconciles agent_targets against the current label/annotation state
// of stacks and agents.
type Engine struct {
	storage *store.Storage
}

// New creates a targeting Engine.
func New(storage *store.Storage) *Engine {
	return &Engine{storage: storage}
}

// matches reports whether an agent's labels/annotations satisfy a stack's
// requirements: agent labels (rendered as "key=value" literal tags, per
// §4.3) must be a superset of stack labels, and every stack annotation key
// must be present on the agent with an equal value. Empty requirements
// match every agent.
func matches(stackLabels []string, stackAnnotations map[string]string, agentLabels, agentAnnotations map[string]string) bool {
	agentLabelSet := labelSet(agentLabels)
	for _, want := range stackLabels {
		if !agentLabelSet[want] {
			return false
		}
	}
	for k, v := range stackAnnotations {
		if agentAnnotations[k] != v {
			return false
		}
	}
	return true
}

// ReconcileForStack recomputes the agent_targets rows for one stack against
// every current agent, inserting matches and removing stale automatic edges.
func (e *Engine) ReconcileForStack(ctx context.Context, stackID uuid.UUID) error {
	stack, err := e.storage.Stacks.ByID(ctx, stackID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "stack not found", err)
	}

	agents, err := e.storage.Agents.List(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "listing agents", err)
	}

	existing, err := e.storage.AgentTargets.ForStack(ctx, stackID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "listing existing targets", err)
	}
	existingByAgent := make(map[uuid.UUID]store.AgentTarget, len(existing))
	for _, t := range existing {
		existingByAgent[t.AgentID] = t
	}

	return e.storage.WithTx(ctx, func(tx pgx.Tx) error {
		matched := make(map[uuid.UUID]bool, len(agents))
		for _, a := range agents {
			if !matches(stack.Labels, stack.Annotations, a.Labels, a.Annotations) {
				continue
			}
			matched[a.ID] = true
			if _, err := e.storage.AgentTargets.Upsert(ctx, tx, a.ID, stackID, store.OriginAutomatic); err != nil {
				return fmt.Errorf("upserting target for agent %s: %w", a.ID, err)
			}
		}
		for agentID := range existingByAgent {
			if matched[agentID] {
				continue
			}
			if err := e.storage.AgentTargets.Remove(ctx, tx, agentID, stackID, true); err != nil {
				return fmt.Errorf("removing stale target for agent %s: %w", agentID, err)
			}
		}
		return nil
	})
}

// ReconcileForAgent recomputes the agent_targets rows for one agent against
// every current stack — the symmetric counterpart of ReconcileForStack.
func (e *Engine) ReconcileForAgent(ctx context.Context, agentID uuid.UUID) error {
	agent, err := e.storage.Agents.ByID(ctx, agentID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "agent not found", err)
	}

	stacks, err := e.storage.Stacks.List(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "listing stacks", err)
	}

	existing, err := e.storage.AgentTargets.ForAgent(ctx, agentID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "listing existing targets", err)
	}
	existingByStack := make(map[uuid.UUID]store.AgentTarget, len(existing))
	for _, t := range existing {
		existingByStack[t.StackID] = t
	}

	return e.storage.WithTx(ctx, func(tx pgx.Tx) error {
		matched := make(map[uuid.UUID]bool, len(stacks))
		for _, s := range stacks {
			if !matches(s.Labels, s.Annotations, agent.Labels, agent.Annotations) {
				continue
			}
			matched[s.ID] = true
			if _, err := e.storage.AgentTargets.Upsert(ctx, tx, agentID, s.ID, store.OriginAutomatic); err != nil {
				return fmt.Errorf("upserting target for stack %s: %w", s.ID, err)
			}
		}
		for stackID := range existingByStack {
			if matched[stackID] {
				continue
			}
			if err := e.storage.AgentTargets.Remove(ctx, tx, agentID, stackID, true); err != nil {
				return fmt.Errorf("removing stale target for stack %s: %w", stackID, err)
			}
		}
		return nil
	})
}

// ExplicitTarget creates a manual (agent, stack) edge that automatic
// reconciliation will never retract.
func (e *Engine) ExplicitTarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	return e.storage.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := e.storage.AgentTargets.Upsert(ctx, tx, agentID, stackID, store.OriginExplicit)
		if err != nil {
			return fmt.Errorf("creating explicit target: %w", err)
		}
		return nil
	})
}

// Untarget removes an (agent, stack) edge regardless of its origin.
func (e *Engine) Untarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	return e.storage.WithTx(ctx, func(tx pgx.Tx) error {
		return e.storage.AgentTargets.Remove(ctx, tx, agentID, stackID, false)
	})
}

// ReconcileAll runs ReconcileForStack against every stack — the background
// sweep's safety-net pass.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	stacks, err := e.storage.Stacks.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing stacks for reconciliation sweep: %w", err)
	}
	for _, s := range stacks {
		if err := e.ReconcileForStack(ctx, s.ID); err != nil {
			return fmt.Errorf("reconciling stack %s: %w", s.ID, err)
		}
	}
	return nil
}
