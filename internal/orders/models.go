package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Variant is a sellable configuration of a product. Each variant owns exactly
// one Inventory row.
type Variant struct {
	ID        int64
	ProductID int64
	Price     decimal.Decimal
	SalePrice decimal.NullDecimal
	CostPrice decimal.NullDecimal
	AttrHash  string // hash of the attribute combination
	IsDefault bool
	CreatedAt time.Time
}

// UnitPrice returns the price an order line pays for this variant: the sale
// price when it is set, positive and below the retail price.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.SalePrice.Valid && v.SalePrice.Decimal.IsPositive() && v.SalePrice.Decimal.LessThan(v.Price) {
		return v.SalePrice.Decimal
	}
	return v.Price
}

type Inventory struct {
	VariantID int64
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

// Contact is shipping/contact metadata. The engine stores it but never
// depends on it for consistency.
type Contact struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Order struct {
	ID          int64           `json:"id"`
	ExternalID  string          `json:"external_id,omitempty"`
	UserID      *int64          `json:"user_id,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Status      Status          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	Contact     Contact         `json:"contact"`
	CloseReason string          `json:"close_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []OrderItem     `json:"items"`
}

// OwnedBy reports whether userID owns the order. Guest orders have no owner.
func (o *Order) OwnedBy(userID *int64) bool {
	return o.UserID != nil && userID != nil && *o.UserID == *userID
}

type OrderItem struct {
	ID        int64               `json:"id"`
	OrderID   int64               `json:"order_id"`
	ProductID int64               `json:"product_id"`
	VariantID int64               `json:"variant_id"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	NetPrice  decimal.NullDecimal `json:"net_price"`
	CreatedAt time.Time           `json:"created_at"`
}

// LineTotal is quantity * unit price.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// SumItems is the value an order's total must always equal.
func SumItems(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Actor is the caller of an engine operation. Authentication happens upstream.
type Actor struct {
	UserID *int64
	Admin  bool
}

func (a Actor) canAccess(o *Order) bool {
	return a.Admin || o.OwnedBy(a.UserID)
}

// ID returns the user id for audit purposes, 0 for anonymous callers.
func (a Actor) ID() int64 {
	if a.UserID == nil {
		return 0
	}
	return *a.UserID
}
