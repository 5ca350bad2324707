package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id             BIGSERIAL PRIMARY KEY,
		number         TEXT NOT NULL UNIQUE,
		email          TEXT NOT NULL DEFAULT '',
		currency       TEXT NOT NULL DEFAULT 'GHS',
		total_incl_tax NUMERIC(12, 2) NOT NULL,
		date_placed    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS payment_sources (
		id               BIGSERIAL PRIMARY KEY,
		order_id         BIGINT NOT NULL REFERENCES orders (id),
		source_type      TEXT NOT NULL,
		amount_allocated NUMERIC(12, 2) NOT NULL,
		amount_debited   NUMERIC(12, 2) NOT NULL DEFAULT 0,
		reference        TEXT NOT NULL DEFAULT '',
		CONSTRAINT debit_within_allocation CHECK (amount_debited <= amount_allocated)
	)`,
	`CREATE INDEX IF NOT EXISTS payment_sources_order_id_idx ON payment_sources (order_id)`,
}

// EnsureSchema creates the ledger tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SeedOrder inserts an order with one allocated payment source.
func (r *Repository) SeedOrder(ctx context.Context, number, email, method string, amount decimal.Decimal) (*domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order := domain.Order{Number: number, Email: email, Currency: "GHS", TotalInclTax: amount}
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (number, email, total_incl_tax) VALUES ($1, $2, $3::numeric) RETURNING id, date_placed`,
		number, email, amount.String(),
	).Scan(&order.ID, &order.PlacedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_sources (order_id, source_type, amount_allocated) VALUES ($1, $2, $3::numeric)`,
		order.ID, method, amount.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return &order, nil
}
