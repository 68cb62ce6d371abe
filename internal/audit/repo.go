package audit

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct {
	DB *pgxpool.Pool
}

// Insert stores one entry. Redelivered events with the same id are ignored.
func (r *Repo) Insert(ctx context.Context, eventID uuid.UUID, e orders.AuditEntry) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO audit_log(event_id, actor_id, kind, order_id, description, total, occurred_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::numeric, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID.String(), e.ActorID, string(e.Kind), e.OrderID, e.Description, e.Total.String(), e.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("insert audit %s: %w", eventID, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) ListByOrder(ctx context.Context, orderID int64) ([]orders.AuditEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT actor_id, kind, order_id, description, total::text, occurred_at
		FROM audit_log WHERE order_id=$1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.AuditEntry
	for rows.Next() {
		var (
			e     orders.AuditEntry
			kind  string
			total string
		)
		if err := rows.Scan(&e.ActorID, &kind, &e.OrderID, &e.Description, &total, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = orders.EventKind(kind)
		if e.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("audit total: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
