package orders

import (
	"context"
	"fmt"
)

// authorizeTransition: owners may cancel their own pending order, everything
// else needs an admin.
func authorizeTransition(actor Actor, o *Order, to Status) error {
	if actor.Admin {
		return nil
	}
	if to == StatusCancelled && o.Status == StatusPending && o.OwnedBy(actor.UserID) {
		return nil
	}
	return newError(KindPermissionDenied, "ADMIN_REQUIRED")
}

// TransitionStatus moves an order along the status graph. Entering CANCELLED
// or REFUNDED releases the stock of every item in the same unit of work.
func (e *Engine) TransitionStatus(ctx context.Context, actor Actor, orderID int64, to Status, reason string) (*Order, error) {
	if !to.Valid() {
		return nil, withOp("transition status", newError(KindValidation, "UNKNOWN_STATUS"))
	}
	return e.transition(ctx, actor, "transition status", orderID, to, reason)
}

// Refund closes a PROCESSING or DELIVERED order as REFUNDED and restores its
// stock. Items and total stay as the historical record. A second refund fails
// with ErrAlreadyClosed and releases nothing.
func (e *Engine) Refund(ctx context.Context, actor Actor, orderID int64, reason string) (*Order, error) {
	return e.transition(ctx, actor, "refund", orderID, StatusRefunded, reason)
}

func (e *Engine) transition(ctx context.Context, actor Actor, op string, orderID int64, to Status, reason string) (*Order, error) {
	var (
		out  *Order
		from Status
	)
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(actor, &o, to); err != nil {
			return err
		}
		if o.Status.Terminal() {
			return newError(KindAlreadyClosed, "STATUS_"+string(o.Status))
		}
		if !CanTransition(o.Status, to) {
			return newError(KindInvalidTransition, fmt.Sprintf("%s_TO_%s", o.Status, to))
		}

		// The conditional write is the guard against a concurrent transition;
		// zero rows means someone else moved the order first.
		changed, err := tx.SetStatus(ctx, o.ID, o.Status, to, reason)
		if err != nil {
			return err
		}
		if !changed {
			return newError(KindAlreadyClosed, "CONCURRENT_TRANSITION")
		}

		items, err := tx.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		if to.releasesStock() {
			if err := e.ledger.releaseAll(ctx, tx, itemDeltas(items)); err != nil {
				return err
			}
			o.CloseReason = reason
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = e.now()
		o.Items = items
		out = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := EventStatusChanged
	if to == StatusRefunded {
		kind = EventOrderRefunded
	}
	desc := fmt.Sprintf("status %s -> %s", from, to)
	if reason != "" {
		desc += ": " + reason
	}
	e.log.Info("order status changed", "order_id", out.ID, "from", from, "to", to)
	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        kind,
		OrderID:     out.ID,
		Description: desc,
		Total:       out.Total,
	})
	return out, nil
}

// PurgeOrder physically deletes an order. Stock still held by a non-terminal
// order is released first. Admin only.
func (e *Engine) PurgeOrder(ctx context.Context, actor Actor, orderID int64) error {
	const op = "purge order"
	if !actor.Admin {
		return withOp(op, newError(KindPermissionDenied, "ADMIN_REQUIRED"))
	}

	var purged Order
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		if !o.Status.Terminal() {
			if err := e.ledger.releaseAll(ctx, tx, itemDeltas(items)); err != nil {
				return err
			}
		}
		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return err
		}
		o.Items = items
		purged = o
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Warn("order purged", "order_id", purged.ID, "status", purged.Status, "items", len(purged.Items))
	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        EventOrderPurged,
		OrderID:     purged.ID,
		Description: fmt.Sprintf("order purged in status %s with %d items", purged.Status, len(purged.Items)),
		Total:       purged.Total,
	})
	return nil
}
