package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
)

// OrderLedger is an "outgoing port" over the order and payment-source records
// the payment flow reads and mutates. Orders themselves are owned elsewhere.
type OrderLedger interface {
	FindOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	FirstAllocatedSource(ctx context.Context, order *domain.Order) (*domain.PaymentSource, error)
	// Debit must fail with domain.ErrOverDebit when amount exceeds what remains allocated.
	Debit(ctx context.Context, source *domain.PaymentSource, amount decimal.Decimal) error
}

// MobileMoneyGateway talks to the mobile-money provider for one payment.
// Implementations never retry; retry policy belongs to the session.
type MobileMoneyGateway interface {
	RequestPayment(ctx context.Context, amount decimal.Decimal) (bool, error)
	ConfirmPayment(ctx context.Context) (bool, error)
}

// GatewayFactory builds a gateway client bound to one payer and reference.
type GatewayFactory interface {
	NewGateway(method domain.PaymentMethod, momoNumber, reference string) MobileMoneyGateway
}

// OrderLocker keeps two sessions from paying the same order at once.
type OrderLocker interface {
	// Acquire returns domain.ErrOrderLocked when another session holds the order.
	Acquire(ctx context.Context, orderNumber string) (release func(), err error)
}

// PaymentEventPublisher is another outgoing port for announcing session outcomes.
type PaymentEventPublisher interface {
	PublishPaymentOutcome(ctx context.Context, outcome domain.PaymentOutcome) error
}

// RateLimiterRepository counts requests per key in a fixed window.
type RateLimiterRepository interface {
	IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PaymentChannel is the duplex client connection a session runs over.
type PaymentChannel interface {
	ReadRequest(ctx context.Context) (domain.PaymentRequest, error)
	Send(ctx context.Context, msg domain.StatusMessage) error
	Close(code domain.CloseCode, reason string) error
}

// PaymentSessionService is an "incoming port": it drives one session to completion.
type PaymentSessionService interface {
	RunSession(ctx context.Context, ch PaymentChannel) domain.PaymentOutcome
}
