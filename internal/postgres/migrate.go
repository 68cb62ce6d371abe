package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Money columns are unconstrained NUMERIC so stored totals equal the exact
// sum of their items.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS variants (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		price NUMERIC NOT NULL CHECK (price >= 0),
		sale_price NUMERIC CHECK (sale_price >= 0),
		cost_price NUMERIC CHECK (cost_price >= 0),
		attr_hash TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_variants_product ON variants(product_id, is_default DESC, created_at, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_variants_one_default ON variants(product_id) WHERE is_default`,

	`CREATE TABLE IF NOT EXISTS inventory (
		variant_id BIGINT PRIMARY KEY REFERENCES variants(id),
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT UNIQUE,
		user_id BIGINT,
		total NUMERIC NOT NULL DEFAULT 0 CHECK (total >= 0),
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		contact_name TEXT NOT NULL DEFAULT '',
		contact_phone TEXT NOT NULL DEFAULT '',
		contact_address TEXT NOT NULL DEFAULT '',
		close_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		variant_id BIGINT NOT NULL REFERENCES variants(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price NUMERIC NOT NULL CHECK (unit_price >= 0),
		net_price NUMERIC,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		actor_id BIGINT NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		order_id BIGINT NOT NULL,
		description TEXT NOT NULL,
		total NUMERIC NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_order ON audit_log(order_id, occurred_at)`,
}

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, m := range migrations {
		if _, err := db.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
