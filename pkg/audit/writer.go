// Package audit implements C8: a bounded-channel, batching audit log
// writer, plus the filtered query handler for /admin/audit-logs.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/internal/telemetry"
	"github.com/brokkr/broker/pkg/credential"
)

// Writer buffers audit entries and flushes them as batched inserts, never
// blocking the caller: a full channel drops the entry (metric-recorded) and
// a meta-entry documenting the drop is appended on the next successful
// flush, per §4.8.
type Writer struct {
	storage       *store.Storage
	logger        *slog.Logger
	entries       chan store.AuditEntry
	batchSize     int
	flushInterval time.Duration
	droppedSince  int
}

// NewWriter creates a Writer. Run must be called to begin the flush loop.
func NewWriter(storage *store.Storage, logger *slog.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Writer {
	return &Writer{
		storage:       storage,
		logger:        logger,
		entries:       make(chan store.AuditEntry, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Enqueue submits an entry without blocking. If the buffer is full, the
// entry is dropped and a metric is incremented.
func (w *Writer) Enqueue(entry store.AuditEntry) {
	if entry.TS.IsZero() {
		entry.TS = time.Now()
	}
	select {
	case w.entries <- entry:
	default:
		telemetry.AuditEntriesDroppedTotal.Inc()
		w.droppedSince++
		w.logger.Warn("audit buffer full, dropping entry", "action", entry.Action)
	}
}

// Run drains and batches entries until ctx is cancelled, flushing on
// whichever of batchSize or flushInterval comes first. In-flight batches
// flush before returning.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]store.AuditEntry, 0, w.batchSize)
	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		err := w.storage.Audit.InsertBatch(ctx, batch)
		if err != nil {
			w.logger.Error("flushing audit batch", "error", err, "count", len(batch))
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			dropped := w.droppedSince
			if dropped > 0 {
				batch = append(batch, store.AuditEntry{
					TS:           time.Now(),
					ActorType:    "system",
					ActorID:      "audit_writer",
					Action:       "audit.entries_dropped",
					ResourceType: "audit_writer",
					ResourceID:   "buffer",
					DetailJSON:   []byte(`{"dropped":` + strconv.Itoa(dropped) + `}`),
				})
				w.droppedSince = 0
			}
			if err := flush(ctx); err != nil && dropped > 0 {
				w.droppedSince += dropped
			}
		}
	}
}

// RunCleanup performs the daily retention sweep §4.9 assigns to audit
// cleanup.
func (w *Writer) RunCleanup(ctx context.Context, retentionDays int) error {
	_, err := w.storage.Audit.DeleteOlderThan(ctx, retentionDays)
	return err
}

// Handler serves /admin/audit-logs.
type Handler struct {
	storage *store.Storage
}

// NewHandler creates an audit query Handler.
func NewHandler(storage *store.Storage) *Handler {
	return &Handler{storage: storage}
}

// Routes mounts the admin audit-log query endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", credential.RequireKind(h.handleQuery))
	return r
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := httpserver.RequestIDFromContext(ctx)
	q := r.URL.Query()

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.InvalidInput, "bad pagination params", err))
		return
	}

	query := store.AuditQuery{
		ActorType:    q.Get("actor_type"),
		ActorID:      q.Get("actor_id"),
		ActionPrefix: q.Get("action_prefix"),
		Limit:        params.PageSize,
		Offset:       params.Offset,
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "since must be RFC3339"))
			return
		}
		query.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpserver.RespondErr(w, requestID, apierr.New(apierr.InvalidInput, "until must be RFC3339"))
			return
		}
		query.Until = &t
	}

	entries, err := h.storage.Audit.Query(ctx, query)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "querying audit log", err))
		return
	}
	total, err := h.storage.Audit.Count(ctx, query)
	if err != nil {
		httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "counting audit log", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}
