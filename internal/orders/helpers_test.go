package orders_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/orders/memstore"
	"github.com/shopspring/decimal"
)

type auditLog struct {
	mu      sync.Mutex
	entries []orders.AuditEntry
	err     error
}

func (a *auditLog) Append(_ context.Context, e orders.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) kinds() []orders.EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]orders.EventKind, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Kind)
	}
	return out
}

type mapCache struct {
	mu          sync.Mutex
	m           map[int64]orders.Order
	gen         map[int64]int64
	invalidated []int64
	// beforeSet runs at the start of Set, outside the lock
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{m: map[int64]orders.Order{}, gen: map[int64]int64{}}
}

func (c *mapCache) Get(_ context.Context, id int64) (*orders.Order, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	if !ok {
		return nil, c.gen[id], false
	}
	return &o, c.gen[id], true
}

func (c *mapCache) Set(_ context.Context, o *orders.Order, gen int64) {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < 0 || c.gen[o.ID] != gen {
		return
	}
	c.m[o.ID] = *o
}

func (c *mapCache) Invalidate(_ context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[id]++
	delete(c.m, id)
	c.invalidated = append(c.invalidated, id)
}

func (c *mapCache) cached(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[id]
	return ok
}

type env struct {
	st    *memstore.Store
	eng   *orders.Engine
	audit *auditLog
	cache *mapCache
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEnv(t testing.TB) *env {
	t.Helper()
	return buildEnv()
}

func buildEnv() *env {
	e := &env{st: memstore.New(), audit: &auditLog{}, cache: newMapCache()}
	e.eng = orders.NewEngine(e.st, orders.Options{
		Audit:        e.audit,
		Cache:        e.cache,
		Logger:       quietLogger(),
		RetryBackoff: time.Millisecond,
	})
	return e
}

// variant seeds a product with one default variant priced at price.
func (e *env) variant(price string, stock int) (productID, variantID int64) {
	productID = e.st.AddProduct("p")
	variantID = e.st.AddVariant(orders.Variant{
		ProductID: productID,
		Price:     decimal.RequireFromString(price),
		IsDefault: true,
	})
	e.st.SetStock(variantID, stock)
	return productID, variantID
}

func ptr[T any](v T) *T { return &v }

func customer(id int64) orders.Actor { return orders.Actor{UserID: ptr(id)} }

var admin = orders.Actor{UserID: ptr(int64(1)), Admin: true}

func line(productID, variantID int64, qty int) orders.LineRequest {
	return orders.LineRequest{ProductID: productID, Variant: orders.ExplicitVariant{ID: variantID}, Quantity: qty}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
