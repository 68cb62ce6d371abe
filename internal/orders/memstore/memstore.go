// Package memstore is an in-process orders.Store. Transactions run one at a
// time against a private copy of the state that replaces the shared state
// only on commit, so a failed unit of work leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.Mutex
	st       *state
	failures int
	now      func() time.Time
}

var _ orders.Store = (*Store)(nil)

type state struct {
	products  map[int64]orders.Product
	variants  map[int64]orders.Variant
	inventory map[int64]orders.Inventory
	orders    map[int64]orders.Order
	items     map[int64]orders.OrderItem

	productSeq, variantSeq, orderSeq, itemSeq int64
}

func New() *Store {
	return &Store{
		st: &state{
			products:  map[int64]orders.Product{},
			variants:  map[int64]orders.Variant{},
			inventory: map[int64]orders.Inventory{},
			orders:    map[int64]orders.Order{},
			items:     map[int64]orders.OrderItem{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *state) clone() *state {
	c := *s
	c.products = cloneMap(s.products)
	c.variants = cloneMap(s.variants)
	c.inventory = cloneMap(s.inventory)
	c.orders = cloneMap(s.orders)
	c.items = cloneMap(s.items)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failures > 0 {
		s.failures--
		return &orders.Error{Kind: orders.KindTransient, Reason: "INJECTED"}
	}
	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// FailNext makes the next n transactions fail with a transient error before
// running.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *Store) AddProduct(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.productSeq++
	id := s.st.productSeq
	s.st.products[id] = orders.Product{ID: id, Name: name, CreatedAt: s.now()}
	return id
}

// AddVariant stores v under a fresh id and creates its inventory row with
// quantity 0. A zero CreatedAt is set to the current time.
func (s *Store) AddVariant(v orders.Variant) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variantSeq++
	v.ID = s.st.variantSeq
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	s.st.variants[v.ID] = v
	s.st.inventory[v.ID] = orders.Inventory{VariantID: v.ID, UpdatedAt: s.now()}
	return v.ID
}

func (s *Store) SetStock(variantID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.st.inventory[variantID]
	inv.VariantID = variantID
	inv.Quantity = qty
	inv.Version++
	s.st.inventory[variantID] = inv
}

func (s *Store) Stock(variantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.inventory[variantID].Quantity
}

// SetTotal overwrites a stored total without touching its items.
func (s *Store) SetTotal(orderID int64, total decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.st.orders[orderID]
	o.Total = total
	s.st.orders[orderID] = o
}

// Order returns the committed order with its items.
func (s *Store) Order(id int64) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.Order{}, false
	}
	o.Items = itemsOf(s.st, id)
	return o, true
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.items)
}

func itemsOf(st *state, orderID int64) []orders.OrderItem {
	var out []orders.OrderItem
	for _, it := range st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type tx struct {
	st  *state
	now func() time.Time
}

func notFound(kind orders.Kind, reason string) error {
	return &orders.Error{Kind: kind, Reason: reason}
}

func (t *tx) GetProduct(_ context.Context, id int64) (orders.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return orders.Product{}, notFound(orders.KindProductNotFound, "")
	}
	return p, nil
}

func (t *tx) GetVariant(_ context.Context, id int64) (orders.Variant, error) {
	v, ok := t.st.variants[id]
	if !ok {
		return orders.Variant{}, notFound(orders.KindVariantNotFound, "")
	}
	return v, nil
}

func (t *tx) DefaultVariant(_ context.Context, productID int64) (orders.Variant, error) {
	var vs []orders.Variant
	for _, v := range t.st.variants {
		if v.ProductID == productID {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return orders.Variant{}, notFound(orders.KindVariantNotFound, "NO_VARIANTS")
	}
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return vs[0], nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	t.st.orderSeq++
	o.ID = t.st.orderSeq
	stored := *o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return nil
}

func (t *tx) FindOrderByExternalID(_ context.Context, externalID string) (orders.Order, bool, error) {
	for _, o := range t.st.orders {
		if o.ExternalID != "" && o.ExternalID == externalID {
			return o, true, nil
		}
	}
	return orders.Order{}, false, nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return orders.Order{}, notFound(orders.KindOrderNotFound, "")
	}
	return o, nil
}

// LockOrder is GetOrder: the store lock already serializes transactions.
func (t *tx) LockOrder(ctx context.Context, id int64) (orders.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) AddToTotal(_ context.Context, orderID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return decimal.Zero, notFound(orders.KindOrderNotFound, "")
	}
	o.Total = o.Total.Add(delta)
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return o.Total, nil
}

func (t *tx) SetStatus(_ context.Context, orderID int64, from, to orders.Status, reason string) (bool, error) {
	o, ok := t.st.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if to.Terminal() {
		o.CloseReason = reason
	}
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return true, nil
}

func (t *tx) DeleteOrder(_ context.Context, id int64) error {
	if _, ok := t.st.orders[id]; !ok {
		return notFound(orders.KindOrderNotFound, "")
	}
	for itemID, it := range t.st.items {
		if it.OrderID == id {
			delete(t.st.items, itemID)
		}
	}
	delete(t.st.orders, id)
	return nil
}

func (t *tx) InsertItem(_ context.Context, it *orders.OrderItem) error {
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return notFound(orders.KindOrderNotFound, "")
	}
	t.st.itemSeq++
	it.ID = t.st.itemSeq
	t.st.items[it.ID] = *it
	return nil
}

func (t *tx) ListItems(_ context.Context, orderID int64) ([]orders.OrderItem, error) {
	return itemsOf(t.st, orderID), nil
}

func (t *tx) GetItem(_ context.Context, id int64) (orders.OrderItem, error) {
	it, ok := t.st.items[id]
	if !ok {
		return orders.OrderItem{}, notFound(orders.KindItemNotFound, "")
	}
	return it, nil
}

func (t *tx) LockItem(ctx context.Context, id int64) (orders.OrderItem, error) {
	return t.GetItem(ctx, id)
}

func (t *tx) SetItemQuantity(_ context.Context, id int64, qty int) error {
	it, ok := t.st.items[id]
	if !ok {
		return notFound(orders.KindItemNotFound, "")
	}
	it.Quantity = qty
	t.st.items[id] = it
	return nil
}

func (t *tx) DeleteItem(_ context.Context, id int64) error {
	if _, ok := t.st.items[id]; !ok {
		return notFound(orders.KindItemNotFound, "")
	}
	delete(t.st.items, id)
	return nil
}

func (t *tx) LockInventory(_ context.Context, variantID int64) (orders.Inventory, error) {
	inv, ok := t.st.inventory[variantID]
	if !ok {
		if _, exists := t.st.variants[variantID]; !exists {
			return orders.Inventory{}, notFound(orders.KindVariantNotFound, "")
		}
		inv = orders.Inventory{VariantID: variantID, UpdatedAt: t.now()}
		t.st.inventory[variantID] = inv
	}
	return inv, nil
}

func (t *tx) SetInventory(_ context.Context, variantID int64, qty int) error {
	inv, ok := t.st.inventory[variantID]
	if !ok {
		return notFound(orders.KindVariantNotFound, "NO_INVENTORY_ROW")
	}
	if qty < 0 {
		return &orders.Error{Kind: orders.KindFatal, Reason: "NEGATIVE_STOCK"}
	}
	inv.Quantity = qty
	inv.Version++
	inv.UpdatedAt = t.now()
	t.st.inventory[variantID] = inv
	return nil
}
