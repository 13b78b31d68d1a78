// Package eventbus implements C6: a bounded, single-dispatcher, many
// webhook-subscription fan-out channel. Emit is non-blocking; a full
// channel drops the event and increments a metric rather than applying
// backpressure to the caller.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/internal/telemetry"
)

// Event is a dotted-identifier notification carrying an arbitrary payload,
// e.g. "deployment.applied", "workorder.completed", "agent.online".
type Event struct {
	Type      string
	Payload   map[string]any
	EmittedAt time.Time
}

// AuditSink receives audit-worthy events. Satisfied by *audit.Writer;
// expressed as an interface here to avoid an eventbus<->audit import cycle.
type AuditSink interface {
	Enqueue(entry store.AuditEntry)
}

// securityRelevant is the static table of exact event types the dispatcher
// forwards to the audit writer, per §4.6's "security-relevant (table
// lookup)" note.
var securityRelevant = map[string]bool{
	"pak.rotated":        true,
	"pak.issued":         true,
	"principal.deleted":  true,
	"agent.deleted":      true,
	"webhook.registered": true,
	"webhook.deleted":    true,
	"config.reloaded":    true,
}

// Bus is the process-wide event channel.
type Bus struct {
	events  chan Event
	storage *store.Storage
	audit   AuditSink
	logger  *slog.Logger
}

// New creates a Bus with the given bounded capacity.
func New(capacity int, storage *store.Storage, audit AuditSink, logger *slog.Logger) *Bus {
	return &Bus{
		events:  make(chan Event, capacity),
		storage: storage,
		audit:   audit,
		logger:  logger,
	}
}

// Emit enqueues event without blocking. If the channel is full, the event
// is dropped and EventBusDroppedTotal is incremented.
func (b *Bus) Emit(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, Payload: payload, EmittedAt: time.Now()}
	telemetry.EventBusEmittedTotal.WithLabelValues(eventType).Inc()
	select {
	case b.events <- ev:
	default:
		telemetry.EventBusDroppedTotal.Inc()
		b.logger.Warn("event bus full, dropping event", "event_type", eventType)
	}
}

// matchesPattern applies §4.6's three pattern forms: exact literal,
// trailing-* prefix match, and catch-all "*".
func matchesPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == eventType
}

func anyPatternMatches(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if matchesPattern(p, eventType) {
			return true
		}
	}
	return false
}

// Run drains the bus until ctx is cancelled. One dispatcher task is
// sufficient: fan-out work per event is just DB inserts, not blocking I/O.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		b.logger.Error("marshaling event payload", "error", err, "event_type", ev.Type)
		return
	}

	subs, err := b.storage.WebhookSubs.ListEnabled(ctx)
	if err != nil {
		b.logger.Error("listing enabled webhook subscriptions", "error", err)
	} else {
		for _, sub := range subs {
			if !anyPatternMatches(sub.EventPatterns, ev.Type) {
				continue
			}
			if _, err := b.storage.WebhookDeliveries.Create(ctx, sub.ID, ev.Type, payload); err != nil {
				b.logger.Error("creating webhook delivery", "error", err, "subscription_id", sub.ID)
			}
		}
	}

	if securityRelevant[ev.Type] && b.audit != nil {
		b.audit.Enqueue(store.AuditEntry{
			TS:           ev.EmittedAt,
			ActorType:    "system",
			ActorID:      "eventbus",
			Action:       ev.Type,
			ResourceType: "event",
			ResourceID:   ev.Type,
			DetailJSON:   payload,
		})
	}
}
