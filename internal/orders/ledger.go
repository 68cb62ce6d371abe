package orders

import (
	"context"
	"fmt"
	"sort"
)

// Ledger owns the reserve/release rule for on-hand stock. It never opens its
// own transaction; every call is composed into the caller's unit of work.
type Ledger struct{}

// Reserve takes qty units of the variant or fails with ErrOutOfStock leaving
// the row untouched.
func (Ledger) Reserve(ctx context.Context, tx InventoryTx, variantID int64, qty int) error {
	if qty <= 0 {
		return newError(KindValidation, "INVALID_QUANTITY")
	}
	inv, err := tx.LockInventory(ctx, variantID)
	if err != nil {
		return fmt.Errorf("lock inventory %d: %w", variantID, err)
	}
	if inv.Quantity < qty {
		return &Error{
			Kind:     KindOutOfStock,
			Reason:   "INSUFFICIENT_STOCK",
			Shortage: &Shortage{VariantID: variantID, Required: qty, Available: inv.Quantity},
		}
	}
	if err := tx.SetInventory(ctx, variantID, inv.Quantity-qty); err != nil {
		return fmt.Errorf("reserve inventory %d: %w", variantID, err)
	}
	return nil
}

// Release gives qty units back unconditionally.
func (Ledger) Release(ctx context.Context, tx InventoryTx, variantID int64, qty int) error {
	if qty <= 0 {
		return newError(KindValidation, "INVALID_QUANTITY")
	}
	inv, err := tx.LockInventory(ctx, variantID)
	if err != nil {
		return fmt.Errorf("lock inventory %d: %w", variantID, err)
	}
	if err := tx.SetInventory(ctx, variantID, inv.Quantity+qty); err != nil {
		return fmt.Errorf("release inventory %d: %w", variantID, err)
	}
	return nil
}

// stockDelta is a per-variant quantity to reserve or release.
type stockDelta struct {
	VariantID int64
	Qty       int
}

// mergeDeltas folds quantities per variant and orders them by variant id, so
// concurrent transactions always take inventory locks in the same order.
func mergeDeltas(in []stockDelta) []stockDelta {
	byVariant := make(map[int64]int, len(in))
	for _, d := range in {
		byVariant[d.VariantID] += d.Qty
	}
	out := make([]stockDelta, 0, len(byVariant))
	for id, qty := range byVariant {
		out = append(out, stockDelta{VariantID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

func (l Ledger) reserveAll(ctx context.Context, tx InventoryTx, deltas []stockDelta) error {
	for _, d := range mergeDeltas(deltas) {
		if err := l.Reserve(ctx, tx, d.VariantID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (l Ledger) releaseAll(ctx context.Context, tx InventoryTx, deltas []stockDelta) error {
	for _, d := range mergeDeltas(deltas) {
		if err := l.Release(ctx, tx, d.VariantID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

func itemDeltas(items []OrderItem) []stockDelta {
	out := make([]stockDelta, 0, len(items))
	for _, it := range items {
		out = append(out, stockDelta{VariantID: it.VariantID, Qty: it.Quantity})
	}
	return out
}
