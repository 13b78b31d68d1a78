// Package agent serves the /agents resource endpoints (§6): registration,
// label/annotation maintenance, explicit targeting, credential rotation,
// and the agent-facing polling endpoints (target-state, events, pending
// work orders).
package agent

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/pkg/credential"
	"github.com/brokkr/broker/pkg/deploymentlog"
	"github.com/brokkr/broker/pkg/eventbus"
	"github.com/brokkr/broker/pkg/targeting"
	"github.com/brokkr/broker/pkg/workorder"
)

// Handler serves the agent resource and its agent-facing sub-endpoints.
type Handler struct {
	storage     *store.Storage
	issuer      *credential.Issuer
	targeting   *targeting.Engine
	deployments *deploymentlog.Log
	workorders  *workorder.Dispatcher
	bus         *eventbus.Bus
}

// NewHandler creates an agent Handler.
func NewHandler(storage *store.Storage, issuer *credential.Issuer, targetingEngine *targeting.Engine, deployments *deploymentlog.Log, workorders *workorder.Dispatcher, bus *eventbus.Bus) *Handler {
	return &Handler{storage: storage, issuer: issuer, targeting: targetingEngine, deployments: deployments, workorders: workorders, bus: bus}
}

// Routes mounts the agent endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleList))
	r.Post("/", credential.RequireKind(h.handleCreate))
	r.Get("/{id}", credential.RequireKind(h.handleGet))
	r.Delete("/{id}", credential.RequireKind(h.handleDelete))
	r.Put("/{id}/labels", credential.RequireKind(h.handleSetLabels))
	r.Put("/{id}/annotations", credential.RequireKind(h.handleSetAnnotations))
	r.Get("/{id}/targets", credential.RequireKind(h.handleListTargets))
	r.Post("/{id}/targets", credential.RequireKind(h.handleCreateTarget))
	r.Delete("/{id}/targets/{stackID}", credential.RequireKind(h.handleDeleteTarget))
	r.Post("/{id}/rotate-pak", credential.RequireKind(h.handleRotatePAK))
	r.Get("/{id}/target-state", credential.RequireKind(h.handleTargetState))
	r.Post("/{id}/events", credential.RequireKind(h.handleReportEvent))
	r.Get("/{id}/work-orders/pending", credential.RequireKind(h.handlePendingWorkOrders))
	r.Get("/{id}/diagnostics", credential.RequireKind(h.handleListDiagnostics))
	r.Post("/{id}/diagnostics", credential.RequireKind(h.handleCreateDiagnostic))
	r.Post("/{id}/diagnostics/{diagID}/result", credential.RequireKind(h.handleSubmitDiagnosticResult))
	return r
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

type createAgentRequest struct {
	Name        string            `json:"name" validate:"required"`
	ClusterName string            `json:"cluster_name" validate:"required"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

type agentView struct {
	store.Agent
	Credential string `json:"credential,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var req createAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, credStr, err := h.issuer.Issue(ctx, store.PrincipalAgent, req.Name)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	ag, err := h.storage.Agents.Create(ctx, principal.ID, req.Name, req.ClusterName, req.Labels, req.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Conflict, "creating agent", err))
		return
	}

	if err := h.targeting.ReconcileForAgent(ctx, ag.ID); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	h.bus.Emit("pak.issued", map[string]any{"principal_id": principal.ID.String(), "kind": "agent", "actor": "admin"})
	httpserver.Respond(w, http.StatusCreated, agentView{Agent: ag, Credential: credStr})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	agents, err := h.storage.Agents.List(ctx)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing agents", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": agents})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, ag)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	if err := h.storage.Agents.SoftDelete(ctx, h.storage.Pool, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := h.storage.AgentTargets.RemoveAllForAgent(ctx, h.storage.Pool, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "removing agent targets", err))
		return
	}
	h.bus.Emit("agent.deleted", map[string]any{"agent_id": id.String(), "actor": "admin"})
	w.WriteHeader(http.StatusNoContent)
}

type labelsRequest struct {
	Labels map[string]string `json:"labels"`
}

func (h *Handler) handleSetLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req labelsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	ag, err := h.storage.Agents.SetLabels(ctx, id, req.Labels)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := h.targeting.ReconcileForAgent(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, ag)
}

type annotationsRequest struct {
	Annotations map[string]string `json:"annotations"`
}

func (h *Handler) handleSetAnnotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req annotationsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	ag, err := h.storage.Agents.SetAnnotations(ctx, id, req.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := h.targeting.ReconcileForAgent(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, ag)
}

func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	targets, err := h.storage.AgentTargets.ForAgent(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing targets", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": targets})
}

type createTargetRequest struct {
	StackID uuid.UUID `json:"stack_id" validate:"required"`
}

func (h *Handler) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req createTargetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.targeting.ExplicitTarget(ctx, id, req.StackID); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "creating explicit target", err))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	stackID, err := parseID(r, "stackID")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid stack id"))
		return
	}
	if err := h.targeting.Untarget(ctx, id, stackID); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "removing target", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRotatePAK(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	_, credStr, err := h.issuer.Rotate(ctx, ag.PrincipalID)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	h.bus.Emit("pak.rotated", map[string]any{"principal_id": ag.PrincipalID.String(), "agent_id": id.String(), "actor": "admin"})
	httpserver.Respond(w, http.StatusOK, map[string]string{"credential": credStr})
}

// requireSelf confirms the caller's resolved principal owns agentID, for
// the agent-facing polling endpoints. Admins bypass this check.
func requireSelf(r *http.Request, ag store.Agent) error {
	payload, ok := credential.FromContext(r.Context())
	if !ok {
		return apierr.New(apierr.Unauthenticated, "no authenticated principal")
	}
	if payload.IsAdmin {
		return nil
	}
	if payload.Kind != store.PrincipalAgent || payload.ID != ag.PrincipalID {
		return apierr.New(apierr.Forbidden, "agent may only access its own resources")
	}
	return nil
}

func (h *Handler) handleTargetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := requireSelf(r, ag); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	objs, err := h.deployments.TargetStateForAgent(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": objs})
}

type reportEventRequest struct {
	DeploymentObjectID uuid.UUID `json:"deployment_object_id" validate:"required"`
	EventKind          string    `json:"event_kind" validate:"required"`
	Status             string    `json:"status" validate:"required"`
	Detail             []byte    `json:"detail"`
}

func (h *Handler) handleReportEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := requireSelf(r, ag); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	var req reportEventRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ev, err := h.storage.AgentEvents.Create(ctx, id, req.DeploymentObjectID, req.EventKind, req.Status, req.Detail)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "recording agent event", err))
		return
	}
	if err := h.storage.Agents.Heartbeat(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "recording heartbeat", err))
		return
	}
	httpserver.Respond(w, http.StatusCreated, ev)
}

func (h *Handler) handlePendingWorkOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := requireSelf(r, ag); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	orders, err := h.workorders.PendingFor(ctx, id, ag.Labels, ag.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": orders})
}

// createDiagnosticRequest asks an agent to gather out-of-band diagnostic
// data (e.g. "describe pod", "collect logs"); the agent has until Deadline
// to submit a result before the sweep marks it EXPIRED.
type createDiagnosticRequest struct {
	Kind           string `json:"kind" validate:"required"`
	DeadlineSeconds int   `json:"deadline_seconds" validate:"gte=1"`
}

func (h *Handler) handleCreateDiagnostic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	if _, err := h.storage.Agents.ByID(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	var req createDiagnosticRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	deadline := time.Now().Add(time.Duration(req.DeadlineSeconds) * time.Second)
	diag, err := h.storage.DiagnosticRequests.Create(ctx, id, req.Kind, deadline)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "creating diagnostic request", err))
		return
	}
	httpserver.Respond(w, http.StatusCreated, diag)
}

func (h *Handler) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	diags, err := h.storage.DiagnosticRequests.ByAgent(ctx, id, 0)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing diagnostic requests", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": diags})
}

type submitDiagnosticResultRequest struct {
	Result []byte `json:"result"`
}

func (h *Handler) handleSubmitDiagnosticResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	ag, err := h.storage.Agents.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", err))
		return
	}
	if err := requireSelf(r, ag); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	diagID, err := parseID(r, "diagID")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid diagnostic id"))
		return
	}
	var req submitDiagnosticResultRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	diag, err := h.storage.DiagnosticRequests.Complete(ctx, diagID, req.Result)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Conflict, "diagnostic request not pending", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, diag)
}
