package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
)

// session is the per-connection state of one payment attempt. It is owned by
// the goroutine running RunSession and is never shared.
type session struct {
	id          uuid.UUID
	state       domain.SessionState
	orderNumber string
	momoNumber  string
	order       *domain.Order
	source      *domain.PaymentSource
	method      domain.PaymentMethod
	attempts    int
	debited     bool

	ch     ports.PaymentChannel
	logger *slog.Logger
	span   trace.Span
}

func newSession(ch ports.PaymentChannel, logger *slog.Logger, span trace.Span) *session {
	id := uuid.New()
	return &session{
		id:     id,
		state:  domain.StateConnected,
		ch:     ch,
		logger: logger.With("session_id", id.String()),
		span:   span,
	}
}

func (s *session) transition(to domain.SessionState) error {
	if !domain.CanTransition(s.state, to) {
		return fmt.Errorf("%s -> %s: %w", s.state, to, domain.ErrInvalidTransition)
	}
	s.logger.Debug("payment session transition", "from", s.state.String(), "to", to.String(), "attempt", s.attempts)
	s.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", s.state.String()),
		attribute.String("to", to.String()),
	))
	s.state = to
	return nil
}

// bind fixes the client supplied identifiers. They never change afterwards.
func (s *session) bind(req domain.PaymentRequest) {
	if s.orderNumber != "" {
		return
	}
	s.orderNumber = string(req.OrderNumber)
	s.momoNumber = string(req.MomoNumber)
	s.logger = s.logger.With("order_number", s.orderNumber)
	s.span.SetAttributes(attribute.String("order.number", s.orderNumber))
}

func (s *session) send(ctx context.Context, text domain.StatusText, message string) error {
	return s.ch.Send(ctx, domain.NewStatus(text, message))
}

// debit collects the allocated amount. The state check is the at-most-once
// guard: only a session still waiting for confirmation may debit.
func (s *session) debit(ctx context.Context, ledger ports.OrderLedger) error {
	if s.state != domain.StateWaitingConfirmation || s.debited {
		return fmt.Errorf("debit in state %s: %w", s.state, domain.ErrAlreadyDebited)
	}
	s.debited = true
	return ledger.Debit(ctx, s.source, s.source.AmountAllocated)
}

// amount is zero until a source has been resolved.
func (s *session) outcome(result domain.Outcome, code domain.CloseCode) domain.PaymentOutcome {
	out := domain.PaymentOutcome{
		EventID:       uuid.New(),
		SessionID:     s.id,
		OrderNumber:   s.orderNumber,
		Outcome:       result,
		CloseCode:     code,
		Attempts:      s.attempts,
		PaymentMethod: s.method.Label,
	}
	if s.source != nil {
		out.Amount = s.source.AmountAllocated
	}
	return out
}
