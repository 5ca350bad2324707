package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
)

// Ledger is an in-process OrderLedger used when no database is configured
// and in tests. Callers get copies; mutations go through Debit.
type Ledger struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	sources map[int64][]*domain.PaymentSource
	nextID  int64
}

func NewLedger() *Ledger {
	return &Ledger{
		orders:  make(map[string]*domain.Order),
		sources: make(map[int64][]*domain.PaymentSource),
	}
}

// AddOrder registers an order with a single allocated source and returns both.
func (l *Ledger) AddOrder(number, sourceType string, amount decimal.Decimal) (*domain.Order, *domain.PaymentSource) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	order := &domain.Order{
		ID:           l.nextID,
		Number:       number,
		Currency:     "GHS",
		TotalInclTax: amount,
		PlacedAt:     time.Now().UTC(),
	}
	l.nextID++
	source := &domain.PaymentSource{
		ID:              l.nextID,
		OrderID:         order.ID,
		SourceType:      sourceType,
		AmountAllocated: amount,
		AmountDebited:   decimal.Zero,
	}
	l.orders[number] = order
	l.sources[order.ID] = append(l.sources[order.ID], source)

	o, s := *order, *source
	return &o, &s
}

func (l *Ledger) FindOrderByNumber(_ context.Context, number string) (*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.orders[number]
	if !ok {
		return nil, fmt.Errorf("order %q: %w", number, domain.ErrOrderNotFound)
	}
	o := *order
	return &o, nil
}

func (l *Ledger) FirstAllocatedSource(_ context.Context, order *domain.Order) (*domain.PaymentSource, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sources := l.sources[order.ID]
	if len(sources) == 0 {
		return nil, fmt.Errorf("order %q: %w", order.Number, domain.ErrNoPaymentSource)
	}
	first := sources[0]
	for _, s := range sources[1:] {
		if s.ID < first.ID {
			first = s
		}
	}
	s := *first
	return &s, nil
}

func (l *Ledger) Debit(_ context.Context, source *domain.PaymentSource, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := l.find(source.ID)
	if stored == nil {
		return fmt.Errorf("payment source %d: %w", source.ID, domain.ErrNoPaymentSource)
	}
	if err := stored.Debit(amount); err != nil {
		return err
	}
	source.AmountDebited = stored.AmountDebited
	return nil
}

// Sources returns copies of an order's sources, ordered by id.
func (l *Ledger) Sources(orderNumber string) []domain.PaymentSource {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.orders[orderNumber]
	if !ok {
		return nil
	}
	out := make([]domain.PaymentSource, 0, len(l.sources[order.ID]))
	for _, s := range l.sources[order.ID] {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) find(id int64) *domain.PaymentSource {
	for _, sources := range l.sources {
		for _, s := range sources {
			if s.ID == id {
				return s
			}
		}
	}
	return nil
}
