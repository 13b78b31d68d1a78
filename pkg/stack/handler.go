// Package stack serves the /stacks resource endpoints (§6): generator-owned
// stack CRUD, deployment-object append (raw and template-backed), and
// cascading soft-delete.
package stack

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/pkg/credential"
	"github.com/brokkr/broker/pkg/deploymentlog"
	"github.com/brokkr/broker/pkg/targeting"
)

// Handler serves the stack resource.
type Handler struct {
	storage     *store.Storage
	targeting   *targeting.Engine
	deployments *deploymentlog.Log
}

// NewHandler creates a stack Handler.
func NewHandler(storage *store.Storage, targetingEngine *targeting.Engine, deployments *deploymentlog.Log) *Handler {
	return &Handler{storage: storage, targeting: targetingEngine, deployments: deployments}
}

// Routes mounts the stack endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleList))
	r.Post("/", credential.RequireKind(h.handleCreate))
	r.Get("/{id}", credential.RequireKind(h.handleGet))
	r.Delete("/{id}", credential.RequireKind(h.handleDelete))
	r.Put("/{id}/labels", credential.RequireKind(h.handleSetLabels))
	r.Put("/{id}/annotations", credential.RequireKind(h.handleSetAnnotations))
	r.Get("/{id}/deployment-objects", credential.RequireKind(h.handleListDeploymentObjects))
	r.Post("/{id}/deployment-objects", credential.RequireKind(h.handleAppend))
	r.Post("/{id}/deployment-objects/from-template", credential.RequireKind(h.handleAppendFromTemplate))
	return r
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

// ownerID resolves the owning principal: the caller itself for a
// Generator, or an explicit owner_id field for an Admin acting on a
// generator's behalf.
func ownerID(r *http.Request, explicit *uuid.UUID) (uuid.UUID, error) {
	payload, ok := credential.FromContext(r.Context())
	if !ok {
		return uuid.UUID{}, apierr.New(apierr.Unauthenticated, "no authenticated principal")
	}
	if payload.Kind == store.PrincipalGenerator {
		return payload.ID, nil
	}
	if explicit != nil {
		return *explicit, nil
	}
	return uuid.UUID{}, apierr.New(apierr.InvalidInput, "owner_id is required for admin-created stacks")
}

type createStackRequest struct {
	Name        string            `json:"name" validate:"required"`
	OwnerID     *uuid.UUID        `json:"owner_id"`
	Labels      []string          `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var req createStackRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	owner, err := ownerID(r, req.OwnerID)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	st, err := h.storage.Stacks.Create(ctx, h.storage.Pool, req.Name, owner, req.Labels, req.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Conflict, "creating stack", err))
		return
	}

	if err := h.targeting.ReconcileForStack(ctx, st.ID); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, st)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var owner *uuid.UUID
	payload, ok := credential.FromContext(ctx)
	if ok && payload.Kind == store.PrincipalGenerator {
		owner = &payload.ID
	}

	stacks, err := h.storage.Stacks.List(ctx, owner)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing stacks", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": stacks})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	st, err := h.storage.Stacks.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "stack not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, st)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	marker, err := h.deployments.SoftDeleteStack(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, marker)
}

type labelsRequest struct {
	Labels []string `json:"labels"`
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
	st, err := h.storage.Stacks.SetLabels(ctx, h.storage.Pool, id, req.Labels)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "stack not found", err))
		return
	}
	if err := h.targeting.ReconcileForStack(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, st)
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
	st, err := h.storage.Stacks.SetAnnotations(ctx, h.storage.Pool, id, req.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "stack not found", err))
		return
	}
	if err := h.targeting.ReconcileForStack(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, st)
}

func (h *Handler) handleListDeploymentObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	objs, err := h.storage.DeploymentObjects.ListForStack(ctx, id, includeDeleted)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing deployment objects", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": objs})
}

type appendRequest struct {
	Payload string `json:"payload" validate:"required"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req appendRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	obj, err := h.deployments.Append(ctx, id, req.Payload, false)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, obj)
}

type appendFromTemplateRequest struct {
	TemplateID string         `json:"template_id" validate:"required"`
	Params     map[string]any `json:"params"`
}

func (h *Handler) handleAppendFromTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req appendFromTemplateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	obj, err := h.deployments.AppendFromTemplate(ctx, id, req.TemplateID, req.Params)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, obj)
}
