package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store opens units of work. fn runs inside one transaction; a nil return
// commits, anything else rolls back every write made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view of the catalog, orders and inventory.
// Lookups of absent rows return the matching *Error kind.
type Tx interface {
	CatalogTx
	OrderTx
	InventoryTx
}

type CatalogTx interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetVariant(ctx context.Context, id int64) (Variant, error)
	// DefaultVariant returns the variant flagged is_default, else the oldest
	// one, ties broken by lowest id.
	DefaultVariant(ctx context.Context, productID int64) (Variant, error)
}

type OrderTx interface {
	InsertOrder(ctx context.Context, o *Order) error
	FindOrderByExternalID(ctx context.Context, externalID string) (Order, bool, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	// LockOrder reads the order header and holds its row lock until the
	// transaction ends.
	LockOrder(ctx context.Context, id int64) (Order, error)
	// AddToTotal adds delta to the order total and returns the new total.
	AddToTotal(ctx context.Context, orderID int64, delta decimal.Decimal) (decimal.Decimal, error)
	// SetStatus writes to only when the stored status equals from. It reports
	// whether a row changed.
	SetStatus(ctx context.Context, orderID int64, from, to Status, reason string) (bool, error)
	DeleteOrder(ctx context.Context, id int64) error

	InsertItem(ctx context.Context, it *OrderItem) error
	ListItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	GetItem(ctx context.Context, id int64) (OrderItem, error)
	LockItem(ctx context.Context, id int64) (OrderItem, error)
	SetItemQuantity(ctx context.Context, id int64, qty int) error
	DeleteItem(ctx context.Context, id int64) error
}

type InventoryTx interface {
	// LockInventory returns the variant's inventory row under a row lock,
	// creating it with quantity 0 when missing.
	LockInventory(ctx context.Context, variantID int64) (Inventory, error)
	// SetInventory stores qty and bumps the row version.
	SetInventory(ctx context.Context, variantID int64, qty int) error
}
