//go:build integration

package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestOrderCacheRoundTrip(t *testing.T) {
	rdb := New(startRedis(t))
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	c := NewOrderCache(rdb, time.Minute, nil)

	uid := int64(7)
	o := &orders.Order{
		ID:     5,
		UserID: &uid,
		Total:  decimal.RequireFromString("10.50"),
		Status: orders.StatusPending,
		Items: []orders.OrderItem{
			{ID: 1, OrderID: 5, VariantID: 2, Quantity: 3, UnitPrice: decimal.RequireFromString("3.50")},
		},
	}
	_, gen, ok := c.Get(ctx, 5)
	assert.False(t, ok)
	assert.Zero(t, gen)

	c.Set(ctx, o, gen)
	got, _, ok := c.Get(ctx, 5)
	require.True(t, ok)
	assert.True(t, got.Total.Equal(o.Total))
	assert.Equal(t, uid, *got.UserID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)

	ttl, err := rdb.TTL(ctx, OrderKey(5)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	c.Invalidate(ctx, 5)
	_, gen, ok = c.Get(ctx, 5)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
}

func TestOrderCacheSkipsStaleFill(t *testing.T) {
	rdb := New(startRedis(t))
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	c := NewOrderCache(rdb, time.Minute, nil)

	o := &orders.Order{ID: 9, Status: orders.StatusProcessing, Total: decimal.RequireFromString("4")}
	_, gen, ok := c.Get(ctx, 9)
	require.False(t, ok)

	// a commit lands between the read and the fill
	c.Invalidate(ctx, 9)
	c.Set(ctx, o, gen)
	_, _, ok = c.Get(ctx, 9)
	assert.False(t, ok, "stale snapshot must not be stored")

	_, gen, _ = c.Get(ctx, 9)
	c.Set(ctx, o, gen)
	_, _, ok = c.Get(ctx, 9)
	assert.True(t, ok)

	// unknown generation never writes
	c.Invalidate(ctx, 9)
	c.Set(ctx, o, -1)
	_, _, ok = c.Get(ctx, 9)
	assert.False(t, ok)
}

func TestDeduper(t *testing.T) {
	rdb := New(startRedis(t))
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	d := &Deduper{RDB: rdb, Service: "auditor"}

	seen, err := d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := d.Mark(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = d.Mark(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, first)

	seen, err = d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
