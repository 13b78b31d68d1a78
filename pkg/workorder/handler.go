package workorder

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

// Handler serves /work-orders: operator-facing create/get/cancel, plus the
// agent-facing claim/complete transitions.
type Handler struct {
	dispatcher            *Dispatcher
	storage               *store.Storage
	bus                   *eventbus.Bus
	defaultClaimTimeoutSeconds int
}

// NewHandler creates a work-order Handler. defaultClaimTimeoutSeconds fills
// in claim_timeout_seconds when a create request omits it.
func NewHandler(dispatcher *Dispatcher, storage *store.Storage, bus *eventbus.Bus, defaultClaimTimeoutSeconds int) *Handler {
	return &Handler{dispatcher: dispatcher, storage: storage, bus: bus, defaultClaimTimeoutSeconds: defaultClaimTimeoutSeconds}
}

// Routes mounts the work-order endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleList))
	r.Post("/", credential.RequireKind(h.handleCreate))
	r.Get("/{id}", credential.RequireKind(h.handleGet))
	r.Delete("/{id}", credential.RequireKind(h.handleCancel))
	r.Post("/{id}/claim", credential.RequireKind(h.handleClaim))
	r.Post("/{id}/complete", credential.RequireKind(h.handleComplete))
	return r
}

type createWorkOrderRequest struct {
	WorkType            string          `json:"work_type" validate:"required"`
	Payload             []byte          `json:"payload"`
	Targeting           store.Targeting `json:"targeting"`
	MaxRetries          int             `json:"max_retries" validate:"gte=0"`
	BackoffSeconds      int             `json:"backoff_seconds" validate:"gte=0"`
	ClaimTimeoutSeconds int             `json:"claim_timeout_seconds" validate:"gte=0"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var req createWorkOrderRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	claimTimeout := req.ClaimTimeoutSeconds
	if claimTimeout == 0 {
		claimTimeout = h.defaultClaimTimeoutSeconds
	}

	wo, err := h.dispatcher.Create(ctx, req.WorkType, req.Payload, req.Targeting, req.MaxRetries, req.BackoffSeconds, claimTimeout)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, wo)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	payload, ok := credential.FromContext(ctx)
	if !ok {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.Unauthenticated, "no authenticated principal"))
		return
	}

	var orders []store.WorkOrder
	var err error
	if payload.Kind == store.PrincipalAgent {
		ag, agErr := h.storage.Agents.ByPrincipalID(ctx, payload.ID)
		if agErr != nil {
			httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "agent not found", agErr))
			return
		}
		orders, err = h.dispatcher.PendingFor(ctx, ag.ID, ag.Labels, ag.Annotations)
	} else {
		orders, err = h.storage.WorkOrders.List(ctx)
	}
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing work orders", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	wo, err := h.storage.WorkOrders.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "work order not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, wo)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	if err := h.dispatcher.Cancel(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func callerAgentID(r *http.Request, storage *store.Storage) (uuid.UUID, error) {
	payload, ok := credential.FromContext(r.Context())
	if !ok {
		return uuid.UUID{}, apierr.New(apierr.Unauthenticated, "no authenticated principal")
	}
	if payload.Kind != store.PrincipalAgent {
		return uuid.UUID{}, apierr.New(apierr.Forbidden, "only agents may claim or complete work orders")
	}
	ag, err := storage.Agents.ByPrincipalID(r.Context(), payload.ID)
	if err != nil {
		return uuid.UUID{}, apierr.Wrap(apierr.NotFound, "agent not found", err)
	}
	return ag.ID, nil
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	agentID, err := callerAgentID(r, h.storage)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	wo, err := h.dispatcher.Claim(ctx, id, agentID)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, wo)
}

type completeRequest struct {
	Success       bool   `json:"success"`
	Retryable     bool   `json:"retryable"`
	ResultMessage string `json:"result_message"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	agentID, err := callerAgentID(r, h.storage)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	var req completeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.Success {
		if err := h.dispatcher.CompleteSuccess(ctx, id, agentID, req.ResultMessage); err != nil {
			httpserver.RespondErr(w, requestID, err)
			return
		}
	} else {
		classification := FailureTerminal
		if req.Retryable {
			classification = FailureRetryable
		}
		if err := h.dispatcher.CompleteFailure(ctx, id, agentID, classification, req.ResultMessage); err != nil {
			httpserver.RespondErr(w, requestID, err)
			return
		}
	}
	h.bus.Emit("workorder.completed", map[string]any{"work_order_id": id.String(), "success": req.Success})
	w.WriteHeader(http.StatusNoContent)
}
