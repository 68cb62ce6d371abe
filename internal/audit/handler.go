package audit

import (
	"context"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Recorder interface {
	Insert(ctx context.Context, eventID uuid.UUID, e orders.AuditEntry) (bool, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) (bool, error)
}

// Handler persists audit envelopes consumed from Kafka.
type Handler struct {
	Store Recorder
	Dedup Deduper // optional
	Log   *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

// Handle is a kafka.Handler. Malformed messages are logged and acknowledged
// so they do not block the partition; storage failures are returned and the
// consumer retries the message before committing anything past it.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		h.logger().Error("drop malformed audit message", "offset", m.Offset, "err", err)
		return nil
	}
	id, err := uuid.Parse(env.EventID)
	if err != nil {
		h.logger().Error("drop audit event without valid id", "event_id", env.EventID, "err", err)
		return nil
	}
	if env.EventVersion != EventVersion {
		h.logger().Warn("skip unknown audit version", "event_id", env.EventID, "version", env.EventVersion)
		return nil
	}

	// fast path; audit_log.event_id tetap jadi penjaga utama
	if h.Dedup != nil {
		if seen, err := h.Dedup.Seen(ctx, env.EventID); err == nil && seen {
			return nil
		}
	}

	entry, err := kafkax.UnwrapPayload[orders.AuditEntry](env.Payload)
	if err != nil {
		h.logger().Error("drop audit event with bad payload", "event_id", env.EventID, "err", err)
		return nil
	}
	inserted, err := h.Store.Insert(ctx, id, entry)
	if err != nil {
		return fmt.Errorf("record audit %s: %w", env.EventID, err)
	}
	if !inserted {
		h.logger().Debug("duplicate audit event", "event_id", env.EventID)
	}

	if h.Dedup != nil {
		if _, err := h.Dedup.Mark(ctx, env.EventID); err != nil {
			h.logger().Warn("dedup mark failed", "event_id", env.EventID, "err", err)
		}
	}
	return nil
}
