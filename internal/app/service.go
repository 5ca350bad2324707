package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"storefront-payments/internal/clock"
	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
	"storefront-payments/internal/observability"
)

const (
	msgRequesting = "Requesting for payment. Please wait..."
	msgWaiting    = "Please check your phone for an authorization prompt for confirmation."
	msgAuthorized = "Payment Received. Thank you for buying from us."
	msgTimeout    = "We could not confirm your payment. Please try again."
)

// SessionConfig is the confirmation polling policy.
type SessionConfig struct {
	// PollInterval is waited before every confirmation poll, the first included.
	PollInterval time.Duration
	// MaxAttempts is the number of unconfirmed polls after which the session times out.
	MaxAttempts int
}

// DefaultSessionConfig polls four times, ten seconds apart.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{PollInterval: 10 * time.Second, MaxAttempts: 4}
}

// service is the implementation of the PaymentSessionService port
type service struct {
	ledger    ports.OrderLedger
	gateways  ports.GatewayFactory
	locker    ports.OrderLocker
	publisher ports.PaymentEventPublisher
	methods   *domain.PaymentMethods
	cfg       SessionConfig
	logger    *slog.Logger
}

// NewPaymentService is the constructor of our service.
func NewPaymentService(
	ledger ports.OrderLedger,
	gateways ports.GatewayFactory,
	locker ports.OrderLocker,
	publisher ports.PaymentEventPublisher,
	methods *domain.PaymentMethods,
	cfg SessionConfig,
	logger *slog.Logger,
) ports.PaymentSessionService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSessionConfig().MaxAttempts
	}
	return &service{
		ledger:    ledger,
		gateways:  gateways,
		locker:    locker,
		publisher: publisher,
		methods:   methods,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunSession drives one client connection from accept to a terminal state.
// Every failure is reported to the client and in the returned outcome; nothing
// is returned as an error because there is no caller to handle it.
func (s *service) RunSession(ctx context.Context, ch ports.PaymentChannel) domain.PaymentOutcome {
	ctx, span := otel.Tracer("storefront-payments/app").Start(ctx, "payment.session")
	defer span.End()

	sess := newSession(ch, observability.LoggerFromContext(ctx, s.logger), span)
	span.SetAttributes(attribute.String("session.id", sess.id.String()))
	observability.SessionStarted()

	out := s.run(ctx, sess)
	out.OccurredAt = time.Now().UTC()

	observability.SessionFinished(string(out.Outcome))
	span.SetAttributes(
		attribute.String("payment.outcome", string(out.Outcome)),
		attribute.Int("payment.attempts", out.Attempts),
	)
	if out.Outcome != domain.OutcomeAuthorized {
		span.SetStatus(codes.Error, string(out.Outcome))
	}

	// the client may already be gone; the event still has to go out
	if err := s.publisher.PublishPaymentOutcome(context.WithoutCancel(ctx), out); err != nil {
		sess.logger.Warn("failed to publish payment outcome", "outcome", out.Outcome, "error", err)
	}
	sess.logger.Info("payment session finished", "outcome", out.Outcome, "attempts", out.Attempts, "close_code", int(out.CloseCode))
	return out
}

func (s *service) run(ctx context.Context, sess *session) domain.PaymentOutcome {
	if err := sess.transition(domain.StateAwaitingRequest); err != nil {
		return s.abort(ctx, sess, err)
	}

	req, err := sess.ch.ReadRequest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRequest) {
			sess.logger.Warn("malformed payment request", "error", err)
			return s.fail(ctx, sess, domain.OutcomeBadData, domain.StatusBadData, domain.CloseMissingOrderNumber, "malformed payment request")
		}
		return s.disconnected(sess, err)
	}

	if err := req.Validate(); err != nil {
		sess.logger.Warn("incomplete payment request", "error", err)
		if errors.Is(err, domain.ErrMissingMomoNumber) {
			sess.bind(req)
			return s.fail(ctx, sess, domain.OutcomeBadData, domain.StatusBadData, domain.CloseMissingMomoNumber, "missing momo number")
		}
		return s.fail(ctx, sess, domain.OutcomeBadData, domain.StatusBadData, domain.CloseMissingOrderNumber, "missing order number")
	}
	sess.bind(req)

	if err := sess.transition(domain.StateRequesting); err != nil {
		return s.abort(ctx, sess, err)
	}

	order, err := s.ledger.FindOrderByNumber(ctx, sess.orderNumber)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return s.fail(ctx, sess, domain.OutcomeNotFound, domain.StatusNotFound, domain.CloseOrderNotFound, "order not found")
		}
		return s.abort(ctx, sess, fmt.Errorf("find order: %w", err))
	}
	sess.order = order

	release, err := s.locker.Acquire(ctx, sess.orderNumber)
	if err != nil {
		if errors.Is(err, domain.ErrOrderLocked) {
			return s.fail(ctx, sess, domain.OutcomeConflict, domain.StatusConflict, domain.CloseConflict, "a payment for this order is already in progress")
		}
		return s.abort(ctx, sess, fmt.Errorf("lock order: %w", err))
	}
	defer release()

	source, err := s.ledger.FirstAllocatedSource(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrNoPaymentSource) {
			return s.fail(ctx, sess, domain.OutcomeNotFound, domain.StatusNotFound, domain.CloseOrderNotFound, "no payment is pending for this order")
		}
		return s.abort(ctx, sess, fmt.Errorf("find payment source: %w", err))
	}
	sess.source = source
	if source.AmountDebited.IsPositive() {
		return s.fail(ctx, sess, domain.OutcomeConflict, domain.StatusConflict, domain.CloseConflict, "this order has already been paid")
	}

	method, ok := s.methods.Get(source.SourceType)
	if !ok {
		sess.logger.Warn("payment source has unsupported method", "source_type", source.SourceType)
		return s.fail(ctx, sess, domain.OutcomeRejected, domain.StatusRejected, domain.CloseRejected, "unsupported payment method")
	}
	sess.method = method

	gateway := s.gateways.NewGateway(method, sess.momoNumber, "Order#"+sess.orderNumber)

	if err := sess.send(ctx, domain.StatusRequesting, msgRequesting); err != nil {
		return s.disconnected(sess, err)
	}
	requested, err := gateway.RequestPayment(ctx, source.AmountAllocated)
	if ctx.Err() != nil {
		return s.disconnected(sess, ctx.Err())
	}
	if err != nil {
		sess.logger.Error("payment request failed", "error", err)
		return s.fail(ctx, sess, domain.OutcomeError, domain.StatusError, domain.CloseInternalError, "could not reach the payment provider")
	}
	if !requested {
		return s.fail(ctx, sess, domain.OutcomeRejected, domain.StatusRejected, domain.CloseRejected, "payment request was declined")
	}

	if err := sess.transition(domain.StateWaitingConfirmation); err != nil {
		return s.abort(ctx, sess, err)
	}
	if err := sess.send(ctx, domain.StatusWaiting, msgWaiting); err != nil {
		return s.disconnected(sess, err)
	}

	confirmed, err := s.pollConfirmation(ctx, sess, gateway)
	if err != nil {
		return s.disconnected(sess, err)
	}
	if !confirmed {
		return s.fail(ctx, sess, domain.OutcomeTimeout, domain.StatusTimeout, domain.CloseTimeout, msgTimeout)
	}

	return s.authorize(ctx, sess)
}

// pollConfirmation waits PollInterval before each poll and gives up after
// MaxAttempts unconfirmed polls. A non-nil error means the session was cancelled.
func (s *service) pollConfirmation(ctx context.Context, sess *session, gateway ports.MobileMoneyGateway) (bool, error) {
	for {
		if err := clock.Sleep(ctx, s.cfg.PollInterval); err != nil {
			return false, err
		}

		confirmed, err := gateway.ConfirmPayment(ctx)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		sess.attempts++
		observability.ConfirmationPolled(confirmed, err)
		if err != nil {
			// provider errors count as an unconfirmed poll
			sess.logger.Warn("confirmation poll failed", "attempt", sess.attempts, "error", err)
		}
		if confirmed && err == nil {
			return true, nil
		}
		if sess.attempts >= s.cfg.MaxAttempts {
			return false, nil
		}
	}
}

func (s *service) authorize(ctx context.Context, sess *session) domain.PaymentOutcome {
	// a committed debit must be reported as such even if the client drops now
	err := sess.debit(context.WithoutCancel(ctx), s.ledger)
	observability.DebitApplied(err)
	if err != nil {
		// the ledger refusing a debit means an invariant broke somewhere else
		sess.logger.Error("debit refused", "amount", sess.source.AmountAllocated.String(), "error", err)
		return s.fail(ctx, sess, domain.OutcomeError, domain.StatusError, domain.CloseInternalError, "payment could not be finalized")
	}

	if err := sess.transition(domain.StateAuthorized); err != nil {
		return s.abort(ctx, sess, err)
	}
	if err := sess.send(ctx, domain.StatusAuthorized, msgAuthorized); err != nil {
		sess.logger.Warn("client left before authorization was delivered", "error", err)
	}
	if err := sess.ch.Close(domain.CloseNormal, string(domain.StatusAuthorized)); err != nil {
		sess.logger.Debug("close after authorization", "error", err)
	}
	_ = sess.transition(domain.StateClosed)
	return sess.outcome(domain.OutcomeAuthorized, domain.CloseNormal)
}

// fail reports a terminal failure to the client and closes the channel.
func (s *service) fail(ctx context.Context, sess *session, result domain.Outcome, text domain.StatusText, code domain.CloseCode, message string) domain.PaymentOutcome {
	_ = sess.transition(domain.StateFailed)
	if err := sess.send(ctx, text, message); err != nil {
		sess.logger.Debug("failure status not delivered", "status", text, "error", err)
	}
	if err := sess.ch.Close(code, string(text)); err != nil {
		sess.logger.Debug("close after failure", "code", int(code), "error", err)
	}
	_ = sess.transition(domain.StateClosed)
	return sess.outcome(result, code)
}

// abort handles errors that are not a normal flow outcome.
func (s *service) abort(ctx context.Context, sess *session, err error) domain.PaymentOutcome {
	sess.logger.Error("payment session aborted", "state", sess.state.String(), "error", err)
	sess.span.RecordError(err)
	return s.fail(ctx, sess, domain.OutcomeError, domain.StatusError, domain.CloseInternalError, "unexpected error")
}

// disconnected ends a session whose client went away. Nothing is debited and
// no frame is written.
func (s *service) disconnected(sess *session, cause error) domain.PaymentOutcome {
	sess.logger.Info("client disconnected", "state", sess.state.String(), "cause", cause)
	_ = sess.transition(domain.StateClosed)
	return sess.outcome(domain.OutcomeDisconnected, 0)
}
