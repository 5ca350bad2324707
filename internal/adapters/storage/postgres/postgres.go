package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
)

// Repository is an implementation of the OrderLedger port for PostgreSQL.
// Amounts travel as text so numeric precision is never lost to floats.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository instance.
// Accepts a DSN (Data Source Name) to connect to.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Let's check that the connection to the database actually works.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// FindOrderByNumber implements the OrderLedger interface method.
func (r *Repository) FindOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	const sql = `
		SELECT id, number, email, currency, total_incl_tax::text, date_placed
		FROM orders
		WHERE number = $1
	`
	var (
		o     domain.Order
		total string
	)
	err := r.pool.QueryRow(ctx, sql, number).Scan(&o.ID, &o.Number, &o.Email, &o.Currency, &total, &o.PlacedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %q: %w", number, domain.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to load order: %v: %w", err, domain.ErrStorageUnavailable)
	}
	if o.TotalInclTax, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %q total: %w", number, err)
	}
	return &o, nil
}

// FirstAllocatedSource returns the oldest payment source of the order.
func (r *Repository) FirstAllocatedSource(ctx context.Context, order *domain.Order) (*domain.PaymentSource, error) {
	const sql = `
		SELECT id, order_id, source_type, amount_allocated::text, amount_debited::text, reference
		FROM payment_sources
		WHERE order_id = $1
		ORDER BY id
		LIMIT 1
	`
	var (
		s                  domain.PaymentSource
		allocated, debited string
	)
	err := r.pool.QueryRow(ctx, sql, order.ID).Scan(&s.ID, &s.OrderID, &s.SourceType, &allocated, &debited, &s.Reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %q: %w", order.Number, domain.ErrNoPaymentSource)
		}
		return nil, fmt.Errorf("failed to load payment source: %v: %w", err, domain.ErrStorageUnavailable)
	}
	if s.AmountAllocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("source %d allocated amount: %w", s.ID, err)
	}
	if s.AmountDebited, err = decimal.NewFromString(debited); err != nil {
		return nil, fmt.Errorf("source %d debited amount: %w", s.ID, err)
	}
	return &s, nil
}

// Debit adds amount to the debited total in one conditional UPDATE, so two
// writers can never push a source past its allocation.
func (r *Repository) Debit(ctx context.Context, source *domain.PaymentSource, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s on source %d: amount must be positive", amount, source.ID)
	}
	const sql = `
		UPDATE payment_sources
		SET amount_debited = amount_debited + $2::numeric
		WHERE id = $1 AND amount_allocated - amount_debited >= $2::numeric
		RETURNING amount_debited::text
	`
	var debited string
	err := r.pool.QueryRow(ctx, sql, source.ID, amount.String()).Scan(&debited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.debitRefused(ctx, source.ID, amount)
		}
		return fmt.Errorf("failed to debit payment source: %v: %w", err, domain.ErrStorageUnavailable)
	}
	source.AmountDebited, err = decimal.NewFromString(debited)
	return err
}

func (r *Repository) debitRefused(ctx context.Context, id int64, amount decimal.Decimal) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_sources WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payment source: %v: %w", err, domain.ErrStorageUnavailable)
	}
	if !exists {
		return fmt.Errorf("payment source %d: %w", id, domain.ErrNoPaymentSource)
	}
	return fmt.Errorf("debit %s on source %d: %w", amount, id, domain.ErrOverDebit)
}
