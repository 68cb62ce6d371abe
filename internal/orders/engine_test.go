package orders_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderReservesStock(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("9.99", 5)

	o, err := e.eng.CreateOrder(context.Background(), customer(7), orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 2)},
	})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, o.Total.Equal(dec("19.98")), o.Total.String())
	assert.Equal(t, 3, e.st.Stock(vid))
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].UnitPrice.Equal(dec("9.99")))
	assert.Equal(t, []orders.EventKind{orders.EventOrderCreated}, e.audit.kinds())
}

func TestItemScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("4.00", 5)
	me := customer(7)

	o, err := e.eng.CreateOrder(ctx, me, orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 2)},
	})
	require.NoError(t, err)
	itemID := o.Items[0].ID

	// Only the increase is reserved: 2 -> 5 needs 3 more and 3 are on hand,
	// so it succeeds below. 2 -> 6 needs 4 and must fail without side effects.
	_, err = e.eng.UpdateItemQuantity(ctx, me, itemID, 6)
	require.ErrorIs(t, err, orders.ErrOutOfStock)
	var oe *orders.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, &orders.Shortage{VariantID: vid, Required: 4, Available: 3}, oe.Shortage)

	after, ok := e.st.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, 2, after.Items[0].Quantity)
	assert.True(t, after.Total.Equal(dec("8")))
	assert.Equal(t, 3, e.st.Stock(vid))

	it, err := e.eng.UpdateItemQuantity(ctx, me, itemID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, it.Quantity)
	assert.Equal(t, 0, e.st.Stock(vid))

	it, err = e.eng.UpdateItemQuantity(ctx, me, itemID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, it.Quantity)
	assert.Equal(t, 4, e.st.Stock(vid))
	after, _ = e.st.Order(o.ID)
	assert.True(t, after.Total.Equal(dec("4")))

	require.NoError(t, e.eng.RemoveItem(ctx, me, itemID))
	assert.Equal(t, 5, e.st.Stock(vid))
	after, _ = e.st.Order(o.ID)
	assert.True(t, after.Total.IsZero())
	assert.Empty(t, after.Items)
}

func TestRemoveItemNegativeTotalIsFatal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("4.00", 5)

	o, err := e.eng.CreateOrder(ctx, customer(7), orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 2)},
	})
	require.NoError(t, err)
	e.st.SetTotal(o.ID, dec("5"))

	err = e.eng.RemoveItem(ctx, customer(7), o.Items[0].ID)
	require.ErrorIs(t, err, orders.ErrFatal)
	require.ErrorIs(t, err, &orders.Error{Kind: orders.KindFatal, Reason: "NEGATIVE_TOTAL"})

	after, ok := e.st.Order(o.ID)
	require.True(t, ok)
	require.Len(t, after.Items, 1)
	assert.Equal(t, 2, after.Items[0].Quantity)
	assert.True(t, after.Total.Equal(dec("5")), "total must not be clamped")
	assert.Equal(t, 3, e.st.Stock(vid))
	assert.Equal(t, []orders.EventKind{orders.EventOrderCreated}, e.audit.kinds())
}

func TestUpdateSameQuantityIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("4.00", 5)

	o, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 2)}})
	require.NoError(t, err)
	_, err = e.eng.UpdateItemQuantity(ctx, admin, o.Items[0].ID, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, e.st.Stock(vid))
	assert.Len(t, e.audit.kinds(), 1)

	_, err = e.eng.UpdateItemQuantity(ctx, admin, o.Items[0].ID, 0)
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestRefundScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p1, v1 := e.variant("10", 4)
	p2, v2 := e.variant("2.50", 6)

	o, err := e.eng.CreateOrder(ctx, customer(7), orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(p1, v1, 1), line(p2, v2, 3)},
	})
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(dec("17.5")))
	assert.Equal(t, 3, e.st.Stock(v1))
	assert.Equal(t, 3, e.st.Stock(v2))

	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.StatusProcessing, "")
	require.NoError(t, err)

	r, err := e.eng.Refund(ctx, admin, o.ID, "customer returned goods")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, r.Status)
	assert.Equal(t, "customer returned goods", r.CloseReason)
	assert.Equal(t, 4, e.st.Stock(v1))
	assert.Equal(t, 6, e.st.Stock(v2))

	_, err = e.eng.Refund(ctx, admin, o.ID, "again")
	require.ErrorIs(t, err, orders.ErrAlreadyClosed)
	assert.Equal(t, 4, e.st.Stock(v1))
	assert.Equal(t, 6, e.st.Stock(v2))

	// items and total stay as the historical record
	stored, _ := e.st.Order(o.ID)
	assert.Len(t, stored.Items, 2)
	assert.True(t, stored.Total.Equal(dec("17.5")))
	assert.Equal(t, []orders.EventKind{
		orders.EventOrderCreated, orders.EventStatusChanged, orders.EventOrderRefunded,
	}, e.audit.kinds())
}

func TestCreateOrderAtomicOnShortage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p1, v1 := e.variant("1", 10)
	p2, v2 := e.variant("2", 1)
	p3, v3 := e.variant("3", 10)

	_, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{line(p1, v1, 2), line(p2, v2, 5), line(p3, v3, 1)},
	})
	require.ErrorIs(t, err, orders.ErrOutOfStock)

	assert.Zero(t, e.st.OrderCount())
	assert.Zero(t, e.st.ItemCount())
	assert.Equal(t, 10, e.st.Stock(v1))
	assert.Equal(t, 1, e.st.Stock(v2))
	assert.Equal(t, 10, e.st.Stock(v3))
	assert.Empty(t, e.audit.kinds())
}

func TestCreateOrderMergesRepeatedVariant(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("1", 5)

	_, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{line(pid, vid, 3), line(pid, vid, 3)},
	})
	require.ErrorIs(t, err, orders.ErrOutOfStock)
	assert.Equal(t, 5, e.st.Stock(vid))
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("1", 5)

	cases := map[string]orders.CreateOrderInput{
		"EMPTY_LINES":             {},
		"INVALID_QUANTITY":        {Lines: []orders.LineRequest{line(pid, vid, 0)}},
		"INVALID_PRODUCT":         {Lines: []orders.LineRequest{line(0, vid, 1)}},
		"INVALID_VARIANT":         {Lines: []orders.LineRequest{line(pid, -1, 1)}},
		"NOTES_TOO_LONG":          {Lines: []orders.LineRequest{line(pid, vid, 1)}, Notes: strings.Repeat("x", 2001)},
		"CONTACT_PHONE_TOO_SHORT": {Lines: []orders.LineRequest{line(pid, vid, 1)}, Contact: orders.Contact{Phone: "123"}},
	}
	for reason, in := range cases {
		t.Run(reason, func(t *testing.T) {
			_, err := e.eng.CreateOrder(context.Background(), admin, in)
			require.ErrorIs(t, err, orders.ErrValidation)
			require.ErrorIs(t, err, &orders.Error{Kind: orders.KindValidation, Reason: reason})
		})
	}
	assert.Equal(t, 5, e.st.Stock(vid))
	assert.Zero(t, e.st.OrderCount())
}

func TestCreateOrderNotFound(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("1", 5)
	other, _ := e.variant("1", 5)

	_, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{line(999, vid, 1)},
	})
	assert.ErrorIs(t, err, orders.ErrProductNotFound)

	_, err = e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{line(pid, 999, 1)},
	})
	assert.ErrorIs(t, err, orders.ErrVariantNotFound)

	// variant of another product
	_, err = e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{line(other, vid, 1)},
	})
	assert.ErrorIs(t, err, &orders.Error{Kind: orders.KindVariantNotFound, Reason: "VARIANT_PRODUCT_MISMATCH"})

	bare := e.st.AddProduct("no variants")
	_, err = e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
		Lines: []orders.LineRequest{{ProductID: bare, Variant: orders.ProductDefault{}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, &orders.Error{Kind: orders.KindVariantNotFound, Reason: "NO_VARIANTS"})
}

func TestDefaultVariantIsDeterministic(t *testing.T) {
	e := newEnv(t)
	pid := e.st.AddProduct("shirt")
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := e.st.AddVariant(orders.Variant{ProductID: pid, Price: dec("5"), CreatedAt: t0})
	sameTime := e.st.AddVariant(orders.Variant{ProductID: pid, Price: dec("6"), CreatedAt: t0})
	newer := e.st.AddVariant(orders.Variant{ProductID: pid, Price: dec("7"), CreatedAt: t0.Add(time.Hour)})
	for _, v := range []int64{older, sameTime, newer} {
		e.st.SetStock(v, 10)
	}

	create := func() orders.OrderItem {
		o, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{
			Lines: []orders.LineRequest{{ProductID: pid, Quantity: 1}},
		})
		require.NoError(t, err)
		return o.Items[0]
	}

	// no flag: oldest, then lowest id
	assert.Equal(t, older, create().VariantID)

	flagged := e.st.AddVariant(orders.Variant{ProductID: pid, Price: dec("8"), IsDefault: true, CreatedAt: t0.Add(2 * time.Hour)})
	e.st.SetStock(flagged, 10)
	for i := 0; i < 3; i++ {
		it := create()
		assert.Equal(t, flagged, it.VariantID)
		assert.True(t, it.UnitPrice.Equal(dec("8")))
	}
}

func TestPriceComesFromCatalog(t *testing.T) {
	e := newEnv(t)
	pid := e.st.AddProduct("sale item")
	vid := e.st.AddVariant(orders.Variant{
		ProductID: pid,
		Price:     dec("20"),
		SalePrice: decimal.NewNullDecimal(dec("15")),
		CostPrice: decimal.NewNullDecimal(dec("9")),
	})
	e.st.SetStock(vid, 5)

	l := line(pid, vid, 2)
	l.ClientPrice = decimal.NewNullDecimal(dec("0.01"))
	o, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{Lines: []orders.LineRequest{l}})
	require.NoError(t, err)

	assert.True(t, o.Total.Equal(dec("30")), o.Total.String())
	assert.True(t, o.Items[0].UnitPrice.Equal(dec("15")))
	assert.True(t, o.Items[0].NetPrice.Valid)
	assert.True(t, o.Items[0].NetPrice.Decimal.Equal(dec("9")))
}

func TestUnitPriceIgnoresInvalidSale(t *testing.T) {
	cases := []struct {
		sale decimal.NullDecimal
		want string
	}{
		{decimal.NullDecimal{}, "20"},
		{decimal.NewNullDecimal(dec("0")), "20"},
		{decimal.NewNullDecimal(dec("25")), "20"},
		{decimal.NewNullDecimal(dec("20")), "20"},
		{decimal.NewNullDecimal(dec("19.99")), "19.99"},
	}
	for _, c := range cases {
		v := orders.Variant{Price: dec("20"), SalePrice: c.sale}
		assert.True(t, v.UnitPrice().Equal(dec(c.want)), "sale %v", c.sale)
	}
}

func TestIdempotentCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 5)
	in := orders.CreateOrderInput{
		UserID:         ptr(int64(7)),
		Lines:          []orders.LineRequest{line(pid, vid, 2)},
		IdempotencyKey: "checkout-123",
	}

	first, err := e.eng.CreateOrder(ctx, customer(7), in)
	require.NoError(t, err)
	second, err := e.eng.CreateOrder(ctx, customer(7), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, 3, e.st.Stock(vid))
	assert.Equal(t, 1, e.st.OrderCount())
	assert.Len(t, e.audit.kinds(), 1)
}

func TestIdempotentCreateHidesForeignOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 5)
	in := orders.CreateOrderInput{
		UserID:         ptr(int64(7)),
		Lines:          []orders.LineRequest{line(pid, vid, 1)},
		Contact:        orders.Contact{Name: "Victim", Phone: "5551234567", Address: "1 Secret St"},
		IdempotencyKey: "k-1",
	}
	_, err := e.eng.CreateOrder(ctx, customer(7), in)
	require.NoError(t, err)

	replay := orders.CreateOrderInput{
		Lines:          []orders.LineRequest{line(pid, vid, 1)},
		IdempotencyKey: "k-1",
	}
	for name, actor := range map[string]orders.Actor{
		"guest":    {},
		"stranger": customer(8),
	} {
		got, err := e.eng.CreateOrder(ctx, actor, replay)
		require.ErrorIs(t, err, orders.ErrPermissionDenied, name)
		assert.Nil(t, got, name)
	}

	assert.Equal(t, 1, e.st.OrderCount())
	assert.Equal(t, 4, e.st.Stock(vid))

	// admins may still replay on a customer's behalf
	got, err := e.eng.CreateOrder(ctx, admin, replay)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *got.UserID)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)
	owner, stranger := customer(7), customer(8)

	_, err := e.eng.CreateOrder(ctx, stranger, orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 1)},
	})
	require.ErrorIs(t, err, &orders.Error{Kind: orders.KindPermissionDenied, Reason: "FOREIGN_USER"})

	o, err := e.eng.CreateOrder(ctx, owner, orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 1)},
	})
	require.NoError(t, err)
	itemID := o.Items[0].ID

	_, err = e.eng.AddItem(ctx, stranger, o.ID, line(pid, vid, 1))
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)
	_, err = e.eng.UpdateItemQuantity(ctx, stranger, itemID, 3)
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)
	assert.ErrorIs(t, e.eng.RemoveItem(ctx, stranger, itemID), orders.ErrPermissionDenied)
	_, err = e.eng.GetOrder(ctx, stranger, o.ID)
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)
	_, err = e.eng.TransitionStatus(ctx, owner, o.ID, orders.StatusProcessing, "")
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)
	_, err = e.eng.Refund(ctx, owner, o.ID, "")
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)
	assert.ErrorIs(t, e.eng.PurgeOrder(ctx, owner, o.ID), orders.ErrPermissionDenied)
	assert.Equal(t, 9, e.st.Stock(vid))

	// guest orders belong to nobody
	guest, err := e.eng.CreateOrder(ctx, orders.Actor{}, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.NoError(t, err)
	_, err = e.eng.GetOrder(ctx, orders.Actor{}, guest.ID)
	assert.ErrorIs(t, err, orders.ErrPermissionDenied)

	// owners may cancel their own pending order
	c, err := e.eng.TransitionStatus(ctx, owner, o.ID, orders.StatusCancelled, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, c.Status)
	assert.Equal(t, 9, e.st.Stock(vid))
}

func TestClosedOrdersRejectItemChanges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	o, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 2)}})
	require.NoError(t, err)
	itemID := o.Items[0].ID

	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.StatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, 10, e.st.Stock(vid))

	_, err = e.eng.AddItem(ctx, admin, o.ID, line(pid, vid, 1))
	assert.ErrorIs(t, err, orders.ErrOrderClosed)
	_, err = e.eng.UpdateItemQuantity(ctx, admin, itemID, 1)
	assert.ErrorIs(t, err, orders.ErrOrderClosed)
	assert.ErrorIs(t, e.eng.RemoveItem(ctx, admin, itemID), orders.ErrOrderClosed)
	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.StatusProcessing, "")
	assert.ErrorIs(t, err, orders.ErrAlreadyClosed)
	assert.Equal(t, 10, e.st.Stock(vid))
}

func TestDeliveredOrderIsFrozenButRefundable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	o, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 2)}})
	require.NoError(t, err)
	for _, s := range []orders.Status{orders.StatusProcessing, orders.StatusDelivered} {
		_, err = e.eng.TransitionStatus(ctx, admin, o.ID, s, "")
		require.NoError(t, err)
	}

	_, err = e.eng.AddItem(ctx, admin, o.ID, line(pid, vid, 1))
	assert.ErrorIs(t, err, &orders.Error{Kind: orders.KindOrderClosed, Reason: "STATUS_DELIVERED"})

	_, err = e.eng.Refund(ctx, admin, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 10, e.st.Stock(vid))
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)
	o, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.NoError(t, err)

	_, err = e.eng.Refund(ctx, admin, o.ID, "")
	assert.ErrorIs(t, err, &orders.Error{Kind: orders.KindInvalidTransition, Reason: "PENDING_TO_REFUNDED"})
	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.StatusDelivered, "")
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.Status("SHIPPED"), "")
	assert.ErrorIs(t, err, orders.ErrValidation)
	_, err = e.eng.TransitionStatus(ctx, admin, 999, orders.StatusProcessing, "")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.Equal(t, 9, e.st.Stock(vid))
}

func TestAddItemRaisesTotal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p1, v1 := e.variant("1.10", 10)
	p2, v2 := e.variant("2.25", 1)

	o, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(p1, v1, 3)}})
	require.NoError(t, err)

	it, err := e.eng.AddItem(ctx, admin, o.ID, orders.LineRequest{ProductID: p2, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, v2, it.VariantID)

	_, err = e.eng.AddItem(ctx, admin, o.ID, line(p2, v2, 1))
	require.ErrorIs(t, err, orders.ErrOutOfStock)

	stored, _ := e.st.Order(o.ID)
	assert.Len(t, stored.Items, 2)
	assert.True(t, stored.Total.Equal(dec("5.55")), stored.Total.String())
	assert.True(t, stored.Total.Equal(orders.SumItems(stored.Items)))
	assert.Equal(t, 0, e.st.Stock(v2))
}

func TestPurgeOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	open, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 4)}})
	require.NoError(t, err)
	closed, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 2)}})
	require.NoError(t, err)
	_, err = e.eng.TransitionStatus(ctx, admin, closed.ID, orders.StatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, 6, e.st.Stock(vid))

	require.NoError(t, e.eng.PurgeOrder(ctx, admin, open.ID))
	require.NoError(t, e.eng.PurgeOrder(ctx, admin, closed.ID))

	assert.Equal(t, 10, e.st.Stock(vid))
	assert.Zero(t, e.st.OrderCount())
	assert.Zero(t, e.st.ItemCount())
	assert.ErrorIs(t, e.eng.PurgeOrder(ctx, admin, open.ID), orders.ErrOrderNotFound)
}

func TestGetOrderUsesCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	o, err := e.eng.CreateOrder(ctx, customer(7), orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 1)},
	})
	require.NoError(t, err)

	got, err := e.eng.GetOrder(ctx, customer(7), o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.True(t, e.cache.cached(o.ID))

	_, err = e.eng.AddItem(ctx, customer(7), o.ID, line(pid, vid, 1))
	require.NoError(t, err)
	assert.False(t, e.cache.cached(o.ID), "mutation must drop the snapshot")

	got, err = e.eng.GetOrder(ctx, customer(7), o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
}

func TestGetOrderDoesNotCacheSnapshotOlderThanCommit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	o, err := e.eng.CreateOrder(ctx, customer(7), orders.CreateOrderInput{
		UserID: ptr(int64(7)),
		Lines:  []orders.LineRequest{line(pid, vid, 2)},
	})
	require.NoError(t, err)
	_, err = e.eng.TransitionStatus(ctx, admin, o.ID, orders.StatusProcessing, "")
	require.NoError(t, err)

	// a refund commits between the read and the cache fill
	var once sync.Once
	e.cache.beforeSet = func() {
		once.Do(func() {
			_, err := e.eng.Refund(ctx, admin, o.ID, "damaged")
			require.NoError(t, err)
		})
	}

	got, err := e.eng.GetOrder(ctx, customer(7), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.False(t, e.cache.cached(o.ID))

	got, err = e.eng.GetOrder(ctx, customer(7), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, got.Status)
	assert.True(t, e.cache.cached(o.ID))
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	e := newEnv(t)
	e.audit.err = errors.New("broker down")
	pid, vid := e.variant("3", 10)

	_, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.NoError(t, err)
	assert.Equal(t, 1, e.st.OrderCount())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("3", 10)

	e.st.FailNext(2)
	_, err := e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.NoError(t, err)
	assert.Equal(t, 9, e.st.Stock(vid))

	e.st.FailNext(10)
	_, err = e.eng.CreateOrder(context.Background(), admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.ErrorIs(t, err, orders.ErrTransient)
	assert.True(t, orders.IsTransient(err))
	assert.Equal(t, 9, e.st.Stock(vid))
	e.st.FailNext(0)
}

func TestCancelledContextStopsRetry(t *testing.T) {
	e := newEnv(t)
	pid, vid := e.variant("3", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.eng.CreateOrder(ctx, admin, orders.CreateOrderInput{Lines: []orders.LineRequest{line(pid, vid, 1)}})
	require.Error(t, err)
	assert.Equal(t, 10, e.st.Stock(vid))
}

func TestErrorCarriesOperation(t *testing.T) {
	e := newEnv(t)
	_, err := e.eng.UpdateItemQuantity(context.Background(), admin, 42, 1)
	require.ErrorIs(t, err, orders.ErrItemNotFound)
	assert.Equal(t, orders.KindItemNotFound, orders.KindOf(err))
	assert.Contains(t, err.Error(), "update item quantity")
}
