package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTxTimeout    = 5 * time.Second
	defaultTxRetries    = 3
	defaultRetryBackoff = 50 * time.Millisecond
	auditTimeout        = 2 * time.Second
)

type Options struct {
	TxTimeout time.Duration
	// TxRetries bounds retries of transient failures. Zero selects the
	// default, a negative value disables retrying.
	TxRetries    int
	RetryBackoff time.Duration
	Audit        AuditSink
	Cache        OrderCache
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine creates and mutates orders while keeping totals and inventory
// consistent. It is safe for concurrent use.
type Engine struct {
	store   Store
	ledger  Ledger
	audit   AuditSink
	cache   OrderCache
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration
	retries int
	backoff time.Duration
}

func NewEngine(store Store, opts Options) *Engine {
	e := &Engine{
		store:   store,
		audit:   opts.Audit,
		cache:   opts.Cache,
		log:     opts.Logger,
		now:     opts.Now,
		timeout: opts.TxTimeout,
		retries: opts.TxRetries,
		backoff: opts.RetryBackoff,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.timeout <= 0 {
		e.timeout = defaultTxTimeout
	}
	if e.retries < 0 {
		e.retries = 0
	} else if e.retries == 0 {
		e.retries = defaultTxRetries
	}
	if e.backoff <= 0 {
		e.backoff = defaultRetryBackoff
	}
	return e
}

// run executes fn as one unit of work bounded by the tx timeout. Transient
// failures are retried with exponential backoff; everything else is returned
// as is.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			if werr := sleepCtx(ctx, backoffDelay(e.backoff, attempt)); werr != nil {
				return withOp(op, &Error{Kind: KindTransient, Reason: "CANCELLED", Err: werr})
			}
		}
		err = e.once(ctx, fn)
		if !IsTransient(err) {
			break
		}
		e.log.Warn("transient failure", "op", op, "attempt", attempt+1, "err", err)
	}
	if errors.Is(err, ErrFatal) {
		e.log.Error("invariant violated", "op", op, "err", err)
	}
	return withOp(op, err)
}

func (e *Engine) once(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := e.store.InTx(tctx, func(tx Tx) error { return fn(tctx, tx) })
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Reason: "TX_TIMEOUT", Err: err}
	}
	return err
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// afterCommit drops the cached snapshot and appends the audit entry. Neither
// can fail the operation.
func (e *Engine) afterCommit(ctx context.Context, entry AuditEntry) {
	ctx = context.WithoutCancel(ctx)
	if e.cache != nil {
		e.cache.Invalidate(ctx, entry.OrderID)
	}
	if e.audit == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = e.now()
	}
	actx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()
	if err := e.audit.Append(actx, entry); err != nil {
		e.log.Error("audit append failed", "kind", entry.Kind, "order_id", entry.OrderID, "err", err)
	}
}

// CreateOrder checks out an explicit line list as a new PENDING order. Either
// the order, all of its items and all reservations commit, or nothing does.
func (e *Engine) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*Order, error) {
	const op = "create order"
	if err := validateCreate(in); err != nil {
		return nil, withOp(op, err)
	}
	if in.UserID != nil && !actor.Admin && (actor.UserID == nil || *actor.UserID != *in.UserID) {
		return nil, withOp(op, newError(KindPermissionDenied, "FOREIGN_USER"))
	}

	var (
		out     *Order
		existed bool
	)
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		out, existed = nil, false
		if in.IdempotencyKey != "" {
			prev, ok, err := tx.FindOrderByExternalID(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				// a replayed key never reveals someone else's order
				if !actor.canAccess(&prev) {
					return newError(KindPermissionDenied, "IDEMPOTENCY_KEY_IN_USE")
				}
				if prev.Items, err = tx.ListItems(ctx, prev.ID); err != nil {
					return err
				}
				out, existed = &prev, true
				return nil
			}
		}

		variants := make([]Variant, len(in.Lines))
		total := decimal.Zero
		for i, l := range in.Lines {
			v, err := e.resolve(ctx, tx, l)
			if err != nil {
				return err
			}
			price := v.UnitPrice()
			if l.ClientPrice.Valid && !l.ClientPrice.Decimal.Equal(price) {
				e.log.Warn("client price differs from catalog",
					"product_id", l.ProductID, "variant_id", v.ID,
					"client_price", l.ClientPrice.Decimal.String(), "price", price.String())
			}
			variants[i] = v
			total = total.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}

		now := e.now()
		o := &Order{
			ExternalID: in.IdempotencyKey,
			UserID:     in.UserID,
			Total:      total,
			Status:     StatusPending,
			Notes:      in.Notes,
			Contact:    in.Contact,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		for i, l := range in.Lines {
			v := variants[i]
			it := OrderItem{
				OrderID:   o.ID,
				ProductID: v.ProductID,
				VariantID: v.ID,
				Quantity:  l.Quantity,
				UnitPrice: v.UnitPrice(),
				NetPrice:  v.CostPrice,
				CreatedAt: now,
			}
			if err := tx.InsertItem(ctx, &it); err != nil {
				return err
			}
			o.Items = append(o.Items, it)
		}
		if err := e.ledger.reserveAll(ctx, tx, itemDeltas(o.Items)); err != nil {
			return err
		}
		if err := checkTotal(o.Total, o.Items); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existed {
		e.log.Info("idempotent create", "order_id", out.ID, "external_id", in.IdempotencyKey)
		return out, nil
	}

	e.log.Info("order created", "order_id", out.ID, "items", len(out.Items), "total", out.Total.String())
	e.afterCommit(ctx, AuditEntry{
		ActorID:     actor.ID(),
		Kind:        EventOrderCreated,
		OrderID:     out.ID,
		Description: fmt.Sprintf("order created with %d items", len(out.Items)),
		Total:       out.Total,
	})
	return out, nil
}

// GetOrder returns the order with its items. Only the owner or an admin may
// read it.
func (e *Engine) GetOrder(ctx context.Context, actor Actor, orderID int64) (*Order, error) {
	const op = "get order"
	gen := int64(-1)
	if e.cache != nil {
		o, g, ok := e.cache.Get(ctx, orderID)
		if ok {
			if !actor.canAccess(o) {
				return nil, withOp(op, newError(KindPermissionDenied, "NOT_OWNER"))
			}
			return o, nil
		}
		gen = g
	}

	var out *Order
	err := e.run(ctx, op, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Items, err = tx.ListItems(ctx, orderID); err != nil {
			return err
		}
		out = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, out, gen)
	}
	if !actor.canAccess(out) {
		return nil, withOp(op, newError(KindPermissionDenied, "NOT_OWNER"))
	}
	return out, nil
}

// resolve maps a line to a concrete variant. Without an explicit variant the
// product's default variant is used and the choice is logged.
func (e *Engine) resolve(ctx context.Context, tx CatalogTx, l LineRequest) (Variant, error) {
	if _, err := tx.GetProduct(ctx, l.ProductID); err != nil {
		return Variant{}, err
	}
	if ref, ok := l.Variant.(ExplicitVariant); ok {
		v, err := tx.GetVariant(ctx, ref.ID)
		if err != nil {
			return Variant{}, err
		}
		if v.ProductID != l.ProductID {
			return Variant{}, newError(KindVariantNotFound, "VARIANT_PRODUCT_MISMATCH")
		}
		return v, nil
	}
	v, err := tx.DefaultVariant(ctx, l.ProductID)
	if err != nil {
		return Variant{}, err
	}
	e.log.Info("default variant selected",
		"product_id", l.ProductID, "variant_id", v.ID, "flagged", v.IsDefault)
	return v, nil
}

func checkTotal(total decimal.Decimal, items []OrderItem) error {
	if total.IsNegative() {
		return newError(KindFatal, "NEGATIVE_TOTAL")
	}
	if sum := SumItems(items); !total.Equal(sum) {
		return &Error{
			Kind:   KindFatal,
			Reason: "TOTAL_MISMATCH",
			Err:    fmt.Errorf("total %s, items sum %s", total, sum),
		}
	}
	return nil
}

// adjustTotal applies delta to the stored total and re-checks it against the
// current items. Call it after the item rows were written.
func (e *Engine) adjustTotal(ctx context.Context, tx OrderTx, orderID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	total, err := tx.AddToTotal(ctx, orderID, delta)
	if err != nil {
		return decimal.Zero, err
	}
	items, err := tx.ListItems(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkTotal(total, items); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
