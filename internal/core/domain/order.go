package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the slice of a placed order the payment flow reads.
// The session never persists or deletes it.
type Order struct {
	ID           int64
	Number       string
	Email        string
	Currency     string
	TotalInclTax decimal.Decimal
	PlacedAt     time.Time
}

// PaymentSource records funds allocated against an order awaiting debit.
type PaymentSource struct {
	ID              int64
	OrderID         int64
	SourceType      string
	AmountAllocated decimal.Decimal
	AmountDebited   decimal.Decimal
	Reference       string
}

// Remaining is the allocated amount not yet debited.
func (s *PaymentSource) Remaining() decimal.Decimal {
	return s.AmountAllocated.Sub(s.AmountDebited)
}

// IsDebited reports whether the whole allocation has been collected.
func (s *PaymentSource) IsDebited() bool {
	return s.AmountAllocated.IsPositive() && s.Remaining().Sign() <= 0
}

// Debit marks amount as collected. It refuses non-positive amounts and any
// amount larger than what remains allocated.
func (s *PaymentSource) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s on source %d: amount must be positive", amount, s.ID)
	}
	if amount.GreaterThan(s.Remaining()) {
		return fmt.Errorf("debit %s on source %d with %s remaining: %w", amount, s.ID, s.Remaining(), ErrOverDebit)
	}
	s.AmountDebited = s.AmountDebited.Add(amount)
	return nil
}
