// handler.go implements the admin-only subscription/delivery CRUD surface
// for /webhooks.
package webhook

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

// Handler serves /webhooks.
type Handler struct {
	storage *store.Storage
	cipher  *Cipher
	bus     *eventbus.Bus
}

// NewHandler creates a webhook subscription Handler.
func NewHandler(storage *store.Storage, cipher *Cipher, bus *eventbus.Bus) *Handler {
	return &Handler{storage: storage, cipher: cipher, bus: bus}
}

// Routes mounts the webhook subscription/delivery endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleList))
	r.Post("/", credential.RequireKind(h.handleCreate))
	r.Get("/{id}", credential.RequireKind(h.handleGet))
	r.Put("/{id}", credential.RequireKind(h.handleUpdate))
	r.Delete("/{id}", credential.RequireKind(h.handleDelete))
	r.Get("/{id}/deliveries", credential.RequireKind(h.handleDeliveries))
	return r
}

type createSubscriptionRequest struct {
	Name           string   `json:"name" validate:"required"`
	URL            string   `json:"url" validate:"required,url"`
	AuthHeader     string   `json:"auth_header"`
	EventPatterns  []string `json:"event_patterns" validate:"required,min=1"`
	MaxRetries     int      `json:"max_retries" validate:"gte=0"`
	TimeoutSeconds int      `json:"timeout_seconds" validate:"gte=1"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	var req createSubscriptionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	urlCiphertext, err := h.cipher.Encrypt(req.URL)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}
	authCiphertext, err := h.cipher.Encrypt(req.AuthHeader)
	if err != nil {
		httpserver.RespondErr(w, requestID, err)
		return
	}

	sub, err := h.storage.WebhookSubs.Create(ctx, req.Name, urlCiphertext, authCiphertext, req.EventPatterns, req.MaxRetries, req.TimeoutSeconds)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Conflict, "creating webhook subscription", err))
		return
	}
	h.bus.Emit("webhook.registered", map[string]any{"subscription_id": sub.ID.String(), "name": sub.Name})
	httpserver.Respond(w, http.StatusCreated, redact(sub))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.InvalidInput, "bad pagination params", err))
		return
	}

	subs, err := h.storage.WebhookSubs.List(ctx, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing webhook subscriptions", err))
		return
	}
	total, err := h.storage.WebhookSubs.Count(ctx)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "counting webhook subscriptions", err))
		return
	}
	out := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, redact(s))
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	sub, err := h.storage.WebhookSubs.ByID(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "webhook subscription not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, redact(sub))
}

type updateSubscriptionRequest struct {
	Name           string   `json:"name" validate:"required"`
	EventPatterns  []string `json:"event_patterns" validate:"required,min=1"`
	Enabled        bool     `json:"enabled"`
	MaxRetries     int      `json:"max_retries" validate:"gte=0"`
	TimeoutSeconds int      `json:"timeout_seconds" validate:"gte=1"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	var req updateSubscriptionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	sub, err := h.storage.WebhookSubs.Update(ctx, id, req.Name, req.EventPatterns, req.Enabled, req.MaxRetries, req.TimeoutSeconds)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "webhook subscription not found", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, redact(sub))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	if err := h.storage.WebhookSubs.SoftDelete(ctx, id); err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.NotFound, "webhook subscription not found", err))
		return
	}
	h.bus.Emit("webhook.deleted", map[string]any{"subscription_id": id.String()})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "invalid id"))
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.InvalidInput, "bad pagination params", err))
		return
	}
	deliveries, err := h.storage.WebhookDeliveries.ForSubscription(ctx, id, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "listing deliveries", err))
		return
	}
	total, err := h.storage.WebhookDeliveries.CountForSubscription(ctx, id)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "counting deliveries", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(deliveries, params, total))
}

// subscriptionView omits the encrypted fields entirely — secrets are
// write-only once set, consistent with the credential package never
// re-exposing a long token after issuance.
type subscriptionView struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	EventPatterns  []string  `json:"event_patterns"`
	Enabled        bool      `json:"enabled"`
	MaxRetries     int       `json:"max_retries"`
	TimeoutSeconds int       `json:"timeout_seconds"`
}

func redact(s store.WebhookSubscription) subscriptionView {
	return subscriptionView{
		ID:             s.ID,
		Name:           s.Name,
		EventPatterns:  s.EventPatterns,
		Enabled:        s.Enabled,
		MaxRetries:     s.MaxRetries,
		TimeoutSeconds: s.TimeoutSeconds,
	}
}
