package memory

import (
	"context"
	"fmt"
	"sync"

	"storefront-payments/internal/core/domain"
)

// OrderLocker is the single-process OrderLocker.
type OrderLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewOrderLocker() *OrderLocker {
	return &OrderLocker{held: make(map[string]struct{})}
}

func (l *OrderLocker) Acquire(_ context.Context, orderNumber string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[orderNumber]; ok {
		return nil, fmt.Errorf("order %q: %w", orderNumber, domain.ErrOrderLocked)
	}
	l.held[orderNumber] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, orderNumber)
			l.mu.Unlock()
		})
	}, nil
}
