package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"storefront-payments/internal/config"
	"storefront-payments/internal/core/domain"
)

const createOutcomesTable = `
CREATE TABLE IF NOT EXISTS payment_outcomes (
	event_id       UUID,
	session_id     UUID,
	order_number   String,
	outcome        LowCardinality(String),
	close_code     UInt16,
	attempts       UInt8,
	amount         Decimal(12, 2),
	payment_method LowCardinality(String),
	occurred_at    DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY (occurred_at, event_id)`

// OutcomeStore keeps the payment outcome history for reporting.
type OutcomeStore struct {
	conn driver.Conn
}

// Open connects to ClickHouse using the configured address and credentials.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (*OutcomeStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("ClickHouse address is not configured")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &OutcomeStore{conn: conn}, nil
}

func (s *OutcomeStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the outcomes table.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, createOutcomesTable)
}

// Insert records one outcome. Redelivered events collapse on event_id.
func (s *OutcomeStore) Insert(ctx context.Context, o domain.PaymentOutcome) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO payment_outcomes
			(event_id, session_id, order_number, outcome, close_code, attempts, amount, payment_method, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.EventID,
		o.SessionID,
		o.OrderNumber,
		string(o.Outcome),
		uint16(o.CloseCode),
		uint8(o.Attempts),
		o.Amount,
		o.PaymentMethod,
		o.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment outcome: %w", err)
	}
	return nil
}

// OutcomeSummary is one row of the per-outcome report.
type OutcomeSummary struct {
	Outcome     string
	Sessions    uint64
	AvgAttempts float64
	Amount      decimal.Decimal
}

// Summary aggregates outcomes recorded since the given time.
func (s *OutcomeStore) Summary(ctx context.Context, since time.Time) ([]OutcomeSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT outcome, count() AS sessions, avg(attempts) AS avg_attempts, toString(sum(amount)) AS amount
		FROM payment_outcomes FINAL
		WHERE occurred_at >= ?
		GROUP BY outcome
		ORDER BY sessions DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome summary: %w", err)
	}
	defer rows.Close()

	var out []OutcomeSummary
	for rows.Next() {
		var (
			row    OutcomeSummary
			amount string
		)
		if err := rows.Scan(&row.Outcome, &row.Sessions, &row.AvgAttempts, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan outcome summary: %w", err)
		}
		if row.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("outcome %s amount: %w", row.Outcome, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Recent returns the latest outcomes recorded for an order, newest first.
func (s *OutcomeStore) Recent(ctx context.Context, orderNumber string, limit int) ([]domain.PaymentOutcome, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_id, session_id, order_number, outcome, close_code, attempts, toString(amount), payment_method, occurred_at
		FROM payment_outcomes FINAL
		WHERE order_number = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, orderNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentOutcome
	for rows.Next() {
		var (
			o         domain.PaymentOutcome
			outcome   string
			closeCode uint16
			attempts  uint8
			amount    string
		)
		if err := rows.Scan(&o.EventID, &o.SessionID, &o.OrderNumber, &outcome, &closeCode, &attempts, &amount, &o.PaymentMethod, &o.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment outcome: %w", err)
		}
		o.Outcome = domain.Outcome(outcome)
		o.CloseCode = domain.CloseCode(closeCode)
		o.Attempts = int(attempts)
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("outcome %s amount: %w", o.EventID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
