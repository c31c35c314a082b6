package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id            UUID PRIMARY KEY,
    order_number  TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    status        TEXT NOT NULL,
    total_amount  NUMERIC(19, 2) NOT NULL,
    notes         TEXT NOT NULL DEFAULT '',
    version       BIGINT NOT NULL DEFAULT 1,
    placed_at     TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ,
    CONSTRAINT orders_order_number_key UNIQUE (order_number)
);
CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status, created_at DESC);

CREATE TABLE IF NOT EXISTS retired_order_numbers (
    order_number  TEXT PRIMARY KEY,
    retired_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_items (
    id             BIGSERIAL PRIMARY KEY,
    order_id       UUID NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
    product_id     TEXT NOT NULL,
    product_name   TEXT NOT NULL,
    product_image  TEXT NOT NULL DEFAULT '',
    price          NUMERIC(19, 2) NOT NULL,
    quantity       INT NOT NULL CHECK (quantity > 0),
    subtotal       NUMERIC(19, 2) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);

CREATE TABLE IF NOT EXISTS shipping_addresses (
    id        BIGSERIAL PRIMARY KEY,
    order_id  UUID NOT NULL UNIQUE REFERENCES orders (id) ON DELETE CASCADE,
    address   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_infos (
    id                   BIGSERIAL PRIMARY KEY,
    order_id             UUID NOT NULL UNIQUE REFERENCES orders (id) ON DELETE CASCADE,
    method               TEXT NOT NULL,
    status               TEXT NOT NULL,
    transaction_id       TEXT NOT NULL DEFAULT '',
    payment_link_id      TEXT NOT NULL DEFAULT '',
    checkout_url         TEXT NOT NULL DEFAULT '',
    provider_order_code  TEXT UNIQUE,
    payment_date         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outbox (
    id              BIGSERIAL PRIMARY KEY,
    aggregate_type  TEXT NOT NULL,
    aggregate_id    TEXT NOT NULL,
    type            TEXT NOT NULL,
    payload         JSONB NOT NULL,
    headers         JSONB NOT NULL DEFAULT '{}',
    traceparent     TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    relay_id        TEXT,
    lease_until     TIMESTAMPTZ,
    retry_count     INT NOT NULL DEFAULT 0,
    last_error      TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox (status, id);
`

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
