package mock

import (
	"context"
	"log/slog"

	"storefront-payments/internal/core/domain"
)

// Broker - stub for PaymentEventPublisher used when Kafka is not configured.
type Broker struct {
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{logger: logger}
}

func (b *Broker) Close() {}

func (b *Broker) PublishPaymentOutcome(_ context.Context, o domain.PaymentOutcome) error {
	b.logger.Info("[MOCK] payment outcome",
		"event_id", o.EventID.String(),
		"order_number", o.OrderNumber,
		"outcome", o.Outcome,
		"attempts", o.Attempts,
		"amount", o.Amount.StringFixed(2),
	)
	return nil
}
