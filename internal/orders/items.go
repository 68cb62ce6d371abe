package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// lockForItems locks the order row and checks that actor may change its items.
func lockForItems(ctx context.Context, tx OrderTx, actor Actor, orderID int64) (Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.canAccess(&o) {
		return Order{}, newError(KindPermissionDenied, "NOT_OWNER")
	}
	if !o.Status.ItemsMutable() {
		return Order{}, newError(KindOrderClosed, "STATUS_"+string(o.Status))
	}
	return o, nil
}

// AddItem adds a line to an open order, reserving its stock and raising the
// total in the same unit of work.
func (e *Engine) AddItem(ctx context.Context, actor Actor, orderID int64, l LineRequest) (*OrderItem, error) {
	const op = "add item"
	if err := validateLine(l); err != nil {
		return nil, withOp(op, err)
	}

	var (
		out   *OrderItem
		total decimal.Decimal
	)
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		o, err := lockForItems(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		v, err := e.resolve(ctx, tx, l)
		if err != nil {
			return err
		}
		it := OrderItem{
			OrderID:   o.ID,
			ProductID: v.ProductID,
			VariantID: v.ID,
			Quantity:  l.Quantity,
			UnitPrice: v.UnitPrice(),
			NetPrice:  v.CostPrice,
			CreatedAt: e.now(),
		}
		if err := tx.InsertItem(ctx, &it); err != nil {
			return err
		}
		if err := e.ledger.Reserve(ctx, tx, v.ID, l.Quantity); err != nil {
			return err
		}
		if total, err = e.adjustTotal(ctx, tx, o.ID, it.LineTotal()); err != nil {
			return err
		}
		out = &it
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        EventItemAdded,
		OrderID:     orderID,
		Description: fmt.Sprintf("item %d added: variant %d x%d", out.ID, out.VariantID, out.Quantity),
		Total:       total,
	})
	return out, nil
}

// UpdateItemQuantity sets an item's quantity, reserving or releasing the
// difference and moving the total by delta times the captured unit price.
func (e *Engine) UpdateItemQuantity(ctx context.Context, actor Actor, itemID int64, newQty int) (*OrderItem, error) {
	const op = "update item quantity"
	if newQty < 1 {
		return nil, withOp(op, newError(KindValidation, "INVALID_QUANTITY"))
	}

	var (
		out   *OrderItem
		total decimal.Decimal
		delta int
	)
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		ref, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		o, err := lockForItems(ctx, tx, actor, ref.OrderID)
		if err != nil {
			return err
		}
		it, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}

		delta = newQty - it.Quantity
		switch {
		case delta > 0:
			err = e.ledger.Reserve(ctx, tx, it.VariantID, delta)
		case delta < 0:
			err = e.ledger.Release(ctx, tx, it.VariantID, -delta)
		}
		if err != nil {
			return err
		}

		if delta != 0 {
			if err := tx.SetItemQuantity(ctx, it.ID, newQty); err != nil {
				return err
			}
			change := it.UnitPrice.Mul(decimal.NewFromInt(int64(delta)))
			if total, err = e.adjustTotal(ctx, tx, o.ID, change); err != nil {
				return err
			}
		}
		it.Quantity = newQty
		out = &it
		return nil
	})
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return out, nil
	}

	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        EventItemUpdated,
		OrderID:     out.OrderID,
		Description: fmt.Sprintf("item %d quantity %d -> %d", out.ID, newQty-delta, newQty),
		Total:       total,
	})
	return out, nil
}

// RemoveItem deletes an item, releasing its stock and lowering the total.
func (e *Engine) RemoveItem(ctx context.Context, actor Actor, itemID int64) error {
	const op = "remove item"

	var (
		removed OrderItem
		total   decimal.Decimal
	)
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		ref, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		o, err := lockForItems(ctx, tx, actor, ref.OrderID)
		if err != nil {
			return err
		}
		it, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := e.ledger.Release(ctx, tx, it.VariantID, it.Quantity); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return err
		}
		if total, err = e.adjustTotal(ctx, tx, o.ID, it.LineTotal().Neg()); err != nil {
			return err
		}
		removed = it
		return nil
	})
	if err != nil {
		return err
	}

	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        EventItemRemoved,
		OrderID:     removed.OrderID,
		Description: fmt.Sprintf("item %d removed: variant %d x%d", removed.ID, removed.VariantID, removed.Quantity),
		Total:       total,
	})
	return nil
}
