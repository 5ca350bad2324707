package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/adapters/storage/memory"
	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
)

var orderAmount = decimal.RequireFromString("123.34")

func amountArg(want decimal.Decimal) interface{} {
	return mock.MatchedBy(func(got decimal.Decimal) bool { return got.Equal(want) })
}

type harness struct {
	ledger    *memory.Ledger
	locker    *memory.OrderLocker
	gateway   *MockGateway
	factory   *MockGatewayFactory
	publisher *MockPublisher
	service   ports.PaymentSessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger:    memory.NewLedger(),
		locker:    memory.NewOrderLocker(),
		gateway:   new(MockGateway),
		factory:   new(MockGatewayFactory),
		publisher: new(MockPublisher),
	}
	h.factory.On("NewGateway", mock.Anything, mock.Anything, mock.Anything).Return(h.gateway).Maybe()
	h.publisher.On("PublishPaymentOutcome", mock.Anything, mock.AnythingOfType("domain.PaymentOutcome")).Return(nil).Maybe()
	h.service = h.newService(h.ledger)
	return h
}

func (h *harness) newService(ledger ports.OrderLedger) ports.PaymentSessionService {
	return NewPaymentService(
		ledger,
		h.factory,
		h.locker,
		h.publisher,
		domain.DefaultPaymentMethods(),
		SessionConfig{PollInterval: time.Millisecond, MaxAttempts: 4},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func (h *harness) debited(t *testing.T, orderNumber string) decimal.Decimal {
	t.Helper()
	sources := h.ledger.Sources(orderNumber)
	require.NotEmpty(t, sources)
	return sources[0].AmountDebited
}

func TestRunSession_AuthorizesOnFirstPoll(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t)
	h.ledger.AddOrder("22333", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, amountArg(orderAmount)).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()
	ch := newFakeChannel("22333", "0244123456")

	// --- Act ---
	out := h.service.RunSession(context.Background(), ch)

	// --- Assert ---
	assert.Equal(t, domain.OutcomeAuthorized, out.Outcome)
	assert.Equal(t, domain.CloseNormal, out.CloseCode)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "22333", out.OrderNumber)
	assert.Equal(t, domain.MethodMTNMomo, out.PaymentMethod)
	assert.True(t, out.Amount.Equal(orderAmount))

	assert.Equal(t, []domain.StatusText{domain.StatusRequesting, domain.StatusWaiting, domain.StatusAuthorized}, ch.statusTexts())
	assert.Equal(t, 102, ch.sent[0].Status)
	assert.Equal(t, msgRequesting, ch.sent[0].Message)
	assert.Equal(t, msgWaiting, ch.sent[1].Message)
	assert.Equal(t, 200, ch.sent[2].Status)
	assert.Equal(t, msgAuthorized, ch.sent[2].Message)
	assert.Equal(t, domain.CloseNormal, ch.closeCode)
	assert.Equal(t, 1, ch.closes)

	assert.True(t, h.debited(t, "22333").Equal(orderAmount), "exactly the allocated amount is debited")

	method, _ := domain.DefaultPaymentMethods().Get(domain.MethodMTNMomo)
	h.factory.AssertCalled(t, "NewGateway", method, "0244123456", "Order#22333")
	h.gateway.AssertExpectations(t)
	h.publisher.AssertCalled(t, "PublishPaymentOutcome", mock.Anything, mock.MatchedBy(func(o domain.PaymentOutcome) bool {
		return o.Outcome == domain.OutcomeAuthorized && o.OrderNumber == "22333" && !o.OccurredAt.IsZero()
	}))

	// the order lock is released on the way out
	release, err := h.locker.Acquire(context.Background(), "22333")
	require.NoError(t, err)
	release()
}

func TestRunSession_AuthorizesAfterSeveralPolls(t *testing.T) {
	h := newHarness(t)
	h.ledger.AddOrder("1001", domain.MethodVFCash, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(false, nil).Twice()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()
	ch := newFakeChannel("1001", "0201234567")

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeAuthorized, out.Outcome)
	assert.Equal(t, 3, out.Attempts)
	h.gateway.AssertNumberOfCalls(t, "ConfirmPayment", 3)
	assert.True(t, h.debited(t, "1001").Equal(orderAmount))
}

func TestRunSession_ConfirmErrorCountsAsUnconfirmedPoll(t *testing.T) {
	h := newHarness(t)
	h.ledger.AddOrder("1002", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(false, domain.ErrGatewayUnavailable).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()

	out := h.service.RunSession(context.Background(), newFakeChannel("1002", "0244000000"))

	assert.Equal(t, domain.OutcomeAuthorized, out.Outcome)
	assert.Equal(t, 2, out.Attempts)
}

func TestRunSession_TimesOutAfterMaxAttempts(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t)
	h.ledger.AddOrder("22333", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(false, nil)
	ch := newFakeChannel("22333", "0244123456")

	// --- Act ---
	out := h.service.RunSession(context.Background(), ch)

	// --- Assert ---
	assert.Equal(t, domain.OutcomeTimeout, out.Outcome)
	assert.Equal(t, domain.CloseTimeout, out.CloseCode)
	assert.Equal(t, 4, out.Attempts)
	h.gateway.AssertNumberOfCalls(t, "ConfirmPayment", 4)

	assert.Equal(t, []domain.StatusText{domain.StatusRequesting, domain.StatusWaiting, domain.StatusTimeout}, ch.statusTexts())
	assert.Equal(t, 408, ch.sent[2].Status)
	assert.Equal(t, domain.CloseTimeout, ch.closeCode)
	assert.True(t, h.debited(t, "22333").IsZero(), "nothing is debited on timeout")
}

func TestRunSession_InvalidRequest(t *testing.T) {
	tests := []struct {
		name        string
		orderNumber string
		momoNumber  string
		wantCode    domain.CloseCode
	}{
		{name: "missing order number", orderNumber: "", momoNumber: "0244123456", wantCode: domain.CloseMissingOrderNumber},
		{name: "blank order number", orderNumber: "   ", momoNumber: "0244123456", wantCode: domain.CloseMissingOrderNumber},
		{name: "missing momo number", orderNumber: "22333", momoNumber: "", wantCode: domain.CloseMissingMomoNumber},
		{name: "both missing", orderNumber: "", momoNumber: "", wantCode: domain.CloseMissingOrderNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.AddOrder("22333", domain.MethodMTNMomo, orderAmount)
			ch := newFakeChannel(tt.orderNumber, tt.momoNumber)

			out := h.service.RunSession(context.Background(), ch)

			assert.Equal(t, domain.OutcomeBadData, out.Outcome)
			assert.Equal(t, tt.wantCode, out.CloseCode)
			assert.Equal(t, []domain.StatusText{domain.StatusBadData}, ch.statusTexts())
			assert.Equal(t, 400, ch.sent[0].Status)
			assert.Equal(t, tt.wantCode, ch.closeCode)
			h.factory.AssertNotCalled(t, "NewGateway", mock.Anything, mock.Anything, mock.Anything)
			h.gateway.AssertNotCalled(t, "RequestPayment", mock.Anything, mock.Anything)
		})
	}
}

func TestRunSession_MalformedRequest(t *testing.T) {
	h := newHarness(t)
	ch := &fakeChannel{readErr: fmt.Errorf("decode: %w", domain.ErrMalformedRequest)}

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeBadData, out.Outcome)
	assert.Equal(t, domain.CloseMissingOrderNumber, ch.closeCode)
}

func TestRunSession_ClientGoneBeforeRequest(t *testing.T) {
	h := newHarness(t)
	ch := &fakeChannel{readErr: io.EOF}

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeDisconnected, out.Outcome)
	assert.Empty(t, ch.statusTexts())
	assert.Zero(t, ch.closes)
}

func TestRunSession_OrderNotFound(t *testing.T) {
	h := newHarness(t)
	ch := newFakeChannel("404404", "0244123456")

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeNotFound, out.Outcome)
	assert.Equal(t, domain.CloseOrderNotFound, ch.closeCode)
	assert.Equal(t, []domain.StatusText{domain.StatusNotFound}, ch.statusTexts())
	assert.Equal(t, 404, ch.sent[0].Status)
	h.factory.AssertNotCalled(t, "NewGateway", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSession_OrderWithoutPaymentSource(t *testing.T) {
	h := newHarness(t)
	ledger := new(MockLedger)
	order := &domain.Order{ID: 7, Number: "777"}
	ledger.On("FindOrderByNumber", mock.Anything, "777").Return(order, nil)
	ledger.On("FirstAllocatedSource", mock.Anything, order).Return(nil, domain.ErrNoPaymentSource)

	ch := newFakeChannel("777", "0244123456")
	out := h.newService(ledger).RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeNotFound, out.Outcome)
	assert.Equal(t, domain.CloseOrderNotFound, ch.closeCode)
	ledger.AssertExpectations(t)
}

func TestRunSession_UnsupportedPaymentMethod(t *testing.T) {
	h := newHarness(t)
	h.ledger.AddOrder("3003", "card", orderAmount)
	ch := newFakeChannel("3003", "0244123456")

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeRejected, out.Outcome)
	assert.Equal(t, domain.CloseRejected, ch.closeCode)
	h.factory.AssertNotCalled(t, "NewGateway", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSession_RequestDeclined(t *testing.T) {
	h := newHarness(t)
	h.ledger.AddOrder("4004", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(false, nil).Once()
	ch := newFakeChannel("4004", "0244123456")

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeRejected, out.Outcome)
	assert.Equal(t, domain.CloseRejected, ch.closeCode)
	assert.Equal(t, []domain.StatusText{domain.StatusRequesting, domain.StatusRejected}, ch.statusTexts())
	h.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything)
	assert.True(t, h.debited(t, "4004").IsZero())
}

func TestRunSession_RequestFails(t *testing.T) {
	h := newHarness(t)
	h.ledger.AddOrder("5005", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(false, domain.ErrGatewayUnavailable).Once()
	ch := newFakeChannel("5005", "0244123456")

	out := h.service.RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeError, out.Outcome)
	assert.Equal(t, domain.CloseInternalError, ch.closeCode)
	h.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything)
}

func TestRunSession_DisconnectDuringPollingNeverDebits(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t)
	h.ledger.AddOrder("22333", domain.MethodMTNMomo, orderAmount)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	// the provider confirms, but the client left while the poll was in flight
	h.gateway.On("ConfirmPayment", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(true, nil).Once()
	ch := newFakeChannel("22333", "0244123456")

	// --- Act ---
	out := h.service.RunSession(ctx, ch)

	// --- Assert ---
	assert.Equal(t, domain.OutcomeDisconnected, out.Outcome)
	assert.Equal(t, []domain.StatusText{domain.StatusRequesting, domain.StatusWaiting}, ch.statusTexts())
	assert.Zero(t, ch.closes)
	assert.True(t, h.debited(t, "22333").IsZero(), "a disconnected session must not debit")

	// the event still goes out after the client is gone
	h.publisher.AssertCalled(t, "PublishPaymentOutcome", mock.Anything, mock.MatchedBy(func(o domain.PaymentOutcome) bool {
		return o.Outcome == domain.OutcomeDisconnected
	}))
}

func TestRunSession_OverDebitIsInternalError(t *testing.T) {
	h := newHarness(t)
	ledger := new(MockLedger)
	order := &domain.Order{ID: 1, Number: "6006"}
	source := &domain.PaymentSource{ID: 2, OrderID: 1, SourceType: domain.MethodMTNMomo, AmountAllocated: orderAmount}
	ledger.On("FindOrderByNumber", mock.Anything, "6006").Return(order, nil)
	ledger.On("FirstAllocatedSource", mock.Anything, order).Return(source, nil)
	ledger.On("Debit", mock.Anything, source, amountArg(orderAmount)).Return(fmt.Errorf("source 2: %w", domain.ErrOverDebit)).Once()
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()
	ch := newFakeChannel("6006", "0244123456")

	out := h.newService(ledger).RunSession(context.Background(), ch)

	assert.Equal(t, domain.OutcomeError, out.Outcome)
	assert.Equal(t, domain.CloseInternalError, ch.closeCode)
	assert.Equal(t, []domain.StatusText{domain.StatusRequesting, domain.StatusWaiting, domain.StatusError}, ch.statusTexts())
	ledger.AssertExpectations(t)
}

func TestRunSession_DebitSurvivesClientDropMidDebit(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t)
	ledger := new(MockLedger)
	order := &domain.Order{ID: 3, Number: "8008"}
	source := &domain.PaymentSource{ID: 4, OrderID: 3, SourceType: domain.MethodMTNMomo, AmountAllocated: orderAmount}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger.On("FindOrderByNumber", mock.Anything, "8008").Return(order, nil)
	ledger.On("FirstAllocatedSource", mock.Anything, order).Return(source, nil)
	var debitCtxErr error
	ledger.On("Debit", mock.Anything, source, amountArg(orderAmount)).Run(func(args mock.Arguments) {
		// the client drops while the UPDATE is in flight
		cancel()
		debitCtxErr = args.Get(0).(context.Context).Err()
	}).Return(nil).Once()
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()
	ch := newFakeChannel("8008", "0244123456")

	// --- Act ---
	out := h.newService(ledger).RunSession(ctx, ch)

	// --- Assert ---
	assert.NoError(t, debitCtxErr, "debit must not observe the client's cancellation")
	assert.Equal(t, domain.OutcomeAuthorized, out.Outcome)
	assert.Equal(t, domain.CloseNormal, out.CloseCode)
	ledger.AssertExpectations(t)
}

func TestRunSession_ConcurrentSessionsForOneOrder(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t)
	h.ledger.AddOrder("22333", domain.MethodMTNMomo, orderAmount)

	polling := make(chan struct{})
	proceed := make(chan struct{})
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Run(func(mock.Arguments) {
		close(polling)
		<-proceed
	}).Return(true, nil).Once()

	first := make(chan domain.PaymentOutcome, 1)
	go func() {
		first <- h.service.RunSession(context.Background(), newFakeChannel("22333", "0244123456"))
	}()
	<-polling

	// --- Act ---
	second := newFakeChannel("22333", "0209999999")
	out2 := h.service.RunSession(context.Background(), second)
	close(proceed)
	out1 := <-first

	third := newFakeChannel("22333", "0244123456")
	out3 := h.service.RunSession(context.Background(), third)

	// --- Assert ---
	assert.Equal(t, domain.OutcomeConflict, out2.Outcome)
	assert.Equal(t, domain.CloseConflict, second.closeCode)
	assert.Equal(t, domain.OutcomeAuthorized, out1.Outcome)
	assert.Equal(t, domain.OutcomeConflict, out3.Outcome, "a paid order cannot be paid again")
	assert.Equal(t, 409, third.sent[0].Status)

	h.gateway.AssertNumberOfCalls(t, "RequestPayment", 1)
	assert.True(t, h.debited(t, "22333").Equal(orderAmount))
}

func TestRunSession_PublishFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t)
	h.publisher = new(MockPublisher)
	h.publisher.On("PublishPaymentOutcome", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	h.service = h.newService(h.ledger)
	h.ledger.AddOrder("7007", domain.MethodMTNMomo, orderAmount)
	h.gateway.On("RequestPayment", mock.Anything, mock.Anything).Return(true, nil).Once()
	h.gateway.On("ConfirmPayment", mock.Anything).Return(true, nil).Once()

	out := h.service.RunSession(context.Background(), newFakeChannel("7007", "0244123456"))

	assert.Equal(t, domain.OutcomeAuthorized, out.Outcome)
	h.publisher.AssertExpectations(t)
}
