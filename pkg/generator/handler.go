// Package generator serves the /generators resource endpoints (§6): the
// CI/CD-side principals that own stacks and push deployment objects.
package generator

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/pkg/credential"
	"github.com/brokkr/broker/pkg/eventbus"
)

// Handler serves the generator resource.
type Handler struct {
	storage *store.Storage
	issuer  *credential.Issuer
	bus     *eventbus.Bus
}

// NewHandler creates a generator Handler.
func NewHandler(storage *store.Storage, issuer *credential.Issuer, bus *eventbus.Bus) *Handler {
	return &Handler{storage: storage, issuer: issuer, bus: bus}
}

// Routes mounts the generator endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleList))
	r.Post("/", credential.RequireKind(h.handleCreate))
	r.Get("/{id}", credential.RequireKind(h.handleGet))
	r.Delete("/{id}", credential.RequireKind(h.handleDelete))
	r.Put("/{id}/labels", credential.RequireKind(h.handleSetLabels))
	r.Put("/{id}/annotations", credential.RequireKind(h.handleSetAnnotations))
	r.Post("/{id}/rotate-pak", credential.RequireKind(h.handleRotatePAK))
	return r
}

type generatorView struct {
	store.Principal
	Credential string `json:"credential,omitempty"`
}

type createGeneratorRequest struct {
	Name        string            `json:"name" validate:"required"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var req createGeneratorRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, token, err := h.issuer.Issue(ctx, store.PrincipalGenerator, req.Name)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	if len(req.Labels) > 0 {
		if _, err := h.storage.Principals.SetLabels(ctx, principal.ID, req.Labels); err != nil {
			httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "setting labels", err))
			return
		}
	}
	if len(req.Annotations) > 0 {
		if _, err := h.storage.Principals.SetAnnotations(ctx, principal.ID, req.Annotations); err != nil {
			httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "setting annotations", err))
			return
		}
	}

	h.bus.Emit("pak.issued", map[string]any{"principal_id": principal.ID, "kind": string(store.PrincipalGenerator)})
	httpserver.Respond(w, http.StatusCreated, generatorView{Principal: principal, Credential: token})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	generators, err := h.storage.Principals.List(ctx, store.PrincipalGenerator)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing generators", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": generators})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	p, err := h.storage.Principals.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "generator not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	if err := h.storage.Principals.SoftDelete(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "generator not found", err))
		return
	}
	h.bus.Emit("principal.deleted", map[string]any{"principal_id": id, "kind": string(store.PrincipalGenerator)})
	w.WriteHeader(http.StatusNoContent)
}

type labelsRequest struct {
	Labels map[string]string `json:"labels"`
}

func (h *Handler) handleSetLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req labelsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.storage.Principals.SetLabels(ctx, id, req.Labels)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "generator not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

type annotationsRequest struct {
	Annotations map[string]string `json:"annotations"`
}

func (h *Handler) handleSetAnnotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req annotationsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.storage.Principals.SetAnnotations(ctx, id, req.Annotations)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "generator not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleRotatePAK(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	principal, token, err := h.issuer.Rotate(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	h.bus.Emit("pak.rotated", map[string]any{"principal_id": id, "kind": string(store.PrincipalGenerator)})
	httpserver.Respond(w, http.StatusOK, generatorView{Principal: principal, Credential: token})
}
