package app

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
)

// MockGateway is a mock implementation of the MobileMoneyGateway port.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) RequestPayment(ctx context.Context, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) ConfirmPayment(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockGatewayFactory hands out one prepared gateway.
type MockGatewayFactory struct {
	mock.Mock
}

func (m *MockGatewayFactory) NewGateway(method domain.PaymentMethod, momoNumber, reference string) ports.MobileMoneyGateway {
	args := m.Called(method, momoNumber, reference)
	return args.Get(0).(ports.MobileMoneyGateway)
}

// MockPublisher is a mock implementation of the PaymentEventPublisher port.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPaymentOutcome(ctx context.Context, outcome domain.PaymentOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

// MockLedger is a mock implementation of the OrderLedger port.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) FindOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	args := m.Called(ctx, number)
	order, _ := args.Get(0).(*domain.Order)
	return order, args.Error(1)
}

func (m *MockLedger) FirstAllocatedSource(ctx context.Context, order *domain.Order) (*domain.PaymentSource, error) {
	args := m.Called(ctx, order)
	source, _ := args.Get(0).(*domain.PaymentSource)
	return source, args.Error(1)
}

func (m *MockLedger) Debit(ctx context.Context, source *domain.PaymentSource, amount decimal.Decimal) error {
	args := m.Called(ctx, source, amount)
	return args.Error(0)
}

// fakeChannel records everything the session writes to the client.
type fakeChannel struct {
	req     domain.PaymentRequest
	readErr error

	mu          sync.Mutex
	sent        []domain.StatusMessage
	closeCode   domain.CloseCode
	closeReason string
	closes      int
}

func newFakeChannel(orderNumber, momoNumber string) *fakeChannel {
	return &fakeChannel{req: domain.PaymentRequest{
		OrderNumber: domain.FlexString(orderNumber),
		MomoNumber:  domain.FlexString(momoNumber),
	}}
}

func (c *fakeChannel) ReadRequest(ctx context.Context) (domain.PaymentRequest, error) {
	if c.readErr != nil {
		return domain.PaymentRequest{}, c.readErr
	}
	return c.req, ctx.Err()
}

func (c *fakeChannel) Send(ctx context.Context, msg domain.StatusMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Close(code domain.CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
	c.closeReason = reason
	c.closes++
	return nil
}

func (c *fakeChannel) statusTexts() []domain.StatusText {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.StatusText, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.StatusText)
	}
	return out
}
