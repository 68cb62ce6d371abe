package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventOrderCreated  EventKind = "OrderCreated"
	EventItemAdded     EventKind = "ItemAdded"
	EventItemUpdated   EventKind = "ItemQuantityChanged"
	EventItemRemoved   EventKind = "ItemRemoved"
	EventStatusChanged EventKind = "StatusChanged"
	EventOrderRefunded EventKind = "OrderRefunded"
	EventOrderPurged   EventKind = "OrderPurged"
)

// AuditEntry is one append-only record of an engine action.
type AuditEntry struct {
	ActorID     int64           `json:"actor_id"`
	Kind        EventKind       `json:"kind"`
	OrderID     int64           `json:"order_id"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// AuditSink receives entries after the business transaction committed. A
// failing sink never affects the operation's result.
type AuditSink interface {
	Append(ctx context.Context, e AuditEntry) error
}

// OrderCache holds read snapshots of orders. Implementations may drop writes.
//
// Every Invalidate bumps the key's generation. On a miss Get returns the
// generation it saw, and Set stores the snapshot only while that generation is
// still current, so a snapshot read before a commit cannot outlive the
// commit's invalidation. A negative generation means unknown; Set skips it.
type OrderCache interface {
	Get(ctx context.Context, id int64) (o *Order, gen int64, ok bool)
	Set(ctx context.Context, o *Order, gen int64)
	Invalidate(ctx context.Context, id int64)
}
