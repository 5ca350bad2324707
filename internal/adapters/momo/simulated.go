package momo

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/clock"
)

// Simulated stands in for a real provider. Requests are always accepted and
// each confirmation poll succeeds with probability 1 in 4.
type Simulated struct {
	momoNumber   string
	reference    string
	requestDelay time.Duration
	confirmDelay time.Duration
	logger       *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedOption customizes a Simulated gateway.
type SimulatedOption func(*Simulated)

// WithDelays overrides the simulated provider latency.
func WithDelays(request, confirm time.Duration) SimulatedOption {
	return func(s *Simulated) {
		s.requestDelay = request
		s.confirmDelay = confirm
	}
}

// WithRand makes confirmation outcomes deterministic.
func WithRand(rng *rand.Rand) SimulatedOption {
	return func(s *Simulated) {
		s.rng = rng
	}
}

func NewSimulated(momoNumber, reference string, logger *slog.Logger, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		momoNumber:   momoNumber,
		reference:    reference,
		requestDelay: 2 * time.Second,
		confirmDelay: 2 * time.Second,
		logger:       logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) RequestPayment(ctx context.Context, amount decimal.Decimal) (bool, error) {
	if err := clock.Sleep(ctx, s.requestDelay); err != nil {
		return false, err
	}
	s.logger.Debug("simulated payment requested", "reference", s.reference, "amount", amount.String())
	return true, nil
}

func (s *Simulated) ConfirmPayment(ctx context.Context) (bool, error) {
	if err := clock.Sleep(ctx, s.confirmDelay); err != nil {
		return false, err
	}
	s.mu.Lock()
	confirmed := s.rng.Intn(4) == 1
	s.mu.Unlock()
	s.logger.Debug("simulated confirmation polled", "reference", s.reference, "confirmed", confirmed)
	return confirmed, nil
}
