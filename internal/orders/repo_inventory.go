package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (t *pgTx) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := t.tx.QueryRow(ctx, `SELECT id, name, created_at FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, newError(KindProductNotFound, "")
	}
	return p, err
}

const variantColumns = `id, product_id, price::text, sale_price::text, cost_price::text, attr_hash, is_default, created_at`

func scanVariant(row pgx.Row, notFound *Error) (Variant, error) {
	var (
		v          Variant
		price      string
		sale, cost *string
	)
	err := row.Scan(&v.ID, &v.ProductID, &price, &sale, &cost, &v.AttrHash, &v.IsDefault, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, notFound
	}
	if err != nil {
		return Variant{}, err
	}
	if v.Price, err = decimal.NewFromString(price); err != nil {
		return Variant{}, fmt.Errorf("variant %d price: %w", v.ID, err)
	}
	if v.SalePrice, err = nullDecimal(sale); err != nil {
		return Variant{}, fmt.Errorf("variant %d sale price: %w", v.ID, err)
	}
	if v.CostPrice, err = nullDecimal(cost); err != nil {
		return Variant{}, fmt.Errorf("variant %d cost price: %w", v.ID, err)
	}
	return v, nil
}

func (t *pgTx) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return scanVariant(t.tx.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id=$1`, id),
		newError(KindVariantNotFound, ""))
}

func (t *pgTx) DefaultVariant(ctx context.Context, productID int64) (Variant, error) {
	return scanVariant(t.tx.QueryRow(ctx, `
		SELECT `+variantColumns+` FROM variants
		WHERE product_id=$1
		ORDER BY is_default DESC, created_at ASC, id ASC
		LIMIT 1`, productID),
		newError(KindVariantNotFound, "NO_VARIANTS"))
}

// LockInventory: create the row lazily, then lock it (FOR UPDATE) so that two
// reservations on one variant never read the same quantity.
func (t *pgTx) LockInventory(ctx context.Context, variantID int64) (Inventory, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO inventory(variant_id, quantity) VALUES ($1, 0)
		ON CONFLICT (variant_id) DO NOTHING`, variantID); err != nil {
		return Inventory{}, err
	}
	var inv Inventory
	err := t.tx.QueryRow(ctx, `
		SELECT variant_id, quantity, version, updated_at
		FROM inventory WHERE variant_id=$1 FOR UPDATE`, variantID).
		Scan(&inv.VariantID, &inv.Quantity, &inv.Version, &inv.UpdatedAt)
	return inv, err
}

func (t *pgTx) SetInventory(ctx context.Context, variantID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE inventory SET quantity=$2, version=version+1, updated_at=now()
		WHERE variant_id=$1`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return newError(KindVariantNotFound, "NO_INVENTORY_ROW")
	}
	return nil
}
