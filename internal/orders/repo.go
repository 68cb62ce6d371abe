package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgStore runs units of work on Postgres. Row locks are taken with
// SELECT ... FOR UPDATE and bounded by LockTimeout.
type PgStore struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

var _ Store = (*PgStore)(nil)

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LockTimeout > 0 {
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, q); err != nil {
			return classify(fmt.Errorf("set lock_timeout: %w", err))
		}
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify turns retryable Postgres failures into ErrTransient and constraint
// breaches on money/stock into ErrFatal.
func classify(err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03", "57014":
		return &Error{Kind: KindTransient, Reason: "PG_" + pgErr.Code, Err: err}
	case "23514":
		return &Error{Kind: KindFatal, Reason: "CHECK_VIOLATION", Err: err}
	case "23505":
		// two concurrent creates with one idempotency key; the retry finds
		// the winner
		if pgErr.ConstraintName == "orders_external_id_key" {
			return &Error{Kind: KindTransient, Reason: "DUPLICATE_EXTERNAL_ID", Err: err}
		}
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

const orderColumns = `id, COALESCE(external_id, ''), user_id, total::text, status, notes,
	contact_name, contact_phone, contact_address, close_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		total  string
		status string
	)
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &total, &status, &o.Notes,
		&o.Contact.Name, &o.Contact.Phone, &o.Contact.Address, &o.CloseReason,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, newError(KindOrderNotFound, "")
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("order %d total: %w", o.ID, err)
	}
	return o, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders(external_id, user_id, total, status, notes,
		                   contact_name, contact_phone, contact_address, created_at, updated_at)
		VALUES (NULLIF($1, ''), $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		o.ExternalID, o.UserID, o.Total.String(), string(o.Status), o.Notes,
		o.Contact.Name, o.Contact.Phone, o.Contact.Address, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
}

func (t *pgTx) FindOrderByExternalID(ctx context.Context, externalID string) (Order, bool, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID))
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) AddToTotal(ctx context.Context, orderID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var total string
	err := t.tx.QueryRow(ctx, `
		UPDATE orders SET total = total + $2::numeric, updated_at = now()
		WHERE id=$1
		RETURNING total::text`, orderID, delta.String()).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, newError(KindOrderNotFound, "")
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

func (t *pgTx) SetStatus(ctx context.Context, orderID int64, from, to Status, reason string) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $3,
		    close_reason = CASE WHEN $3 IN ('CANCELLED', 'REFUNDED') THEN $4 ELSE close_reason END,
		    updated_at = now()
		WHERE id=$1 AND status=$2`, orderID, string(from), string(to), reason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, id); err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return newError(KindOrderNotFound, "")
	}
	return nil
}

const itemColumns = `id, order_id, product_id, variant_id, quantity, unit_price::text, net_price::text, created_at`

func scanItem(row pgx.Row) (OrderItem, error) {
	var (
		it    OrderItem
		price string
		net   *string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Quantity, &price, &net, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderItem{}, newError(KindItemNotFound, "")
	}
	if err != nil {
		return OrderItem{}, err
	}
	if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return OrderItem{}, fmt.Errorf("item %d unit price: %w", it.ID, err)
	}
	if it.NetPrice, err = nullDecimal(net); err != nil {
		return OrderItem{}, fmt.Errorf("item %d net price: %w", it.ID, err)
	}
	return it, nil
}

func (t *pgTx) InsertItem(ctx context.Context, it *OrderItem) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_items(order_id, product_id, variant_id, quantity, unit_price, net_price, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		RETURNING id`,
		it.OrderID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice.String(), nullString(it.NetPrice), it.CreatedAt,
	).Scan(&it.ID)
}

func (t *pgTx) ListItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) GetItem(ctx context.Context, id int64) (OrderItem, error) {
	return scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id=$1`, id))
}

func (t *pgTx) LockItem(ctx context.Context, id int64) (OrderItem, error) {
	return scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) SetItemQuantity(ctx context.Context, id int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE order_items SET quantity=$2 WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return newError(KindItemNotFound, "")
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return newError(KindItemNotFound, "")
	}
	return nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
