package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/core/domain"
)

func TestLedger_FindAndDebit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	amount := decimal.RequireFromString("123.34")
	l.AddOrder("22333", domain.MethodMTNMomo, amount)

	order, err := l.FindOrderByNumber(ctx, "22333")
	require.NoError(t, err)
	assert.Equal(t, "22333", order.Number)

	source, err := l.FirstAllocatedSource(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodMTNMomo, source.SourceType)
	assert.True(t, source.AmountDebited.IsZero())

	require.NoError(t, l.Debit(ctx, source, amount))
	assert.True(t, source.AmountDebited.Equal(amount), "the caller's copy is refreshed")
	assert.True(t, l.Sources("22333")[0].AmountDebited.Equal(amount))

	err = l.Debit(ctx, source, decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, domain.ErrOverDebit)
}

func TestLedger_NotFound(t *testing.T) {
	l := NewLedger()

	_, err := l.FindOrderByNumber(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = l.FirstAllocatedSource(context.Background(), &domain.Order{ID: 99, Number: "missing"})
	assert.ErrorIs(t, err, domain.ErrNoPaymentSource)
}

func TestLedger_ReturnsCopies(t *testing.T) {
	l := NewLedger()
	_, source := l.AddOrder("1", domain.MethodVFCash, decimal.NewFromInt(10))

	source.AmountDebited = decimal.NewFromInt(10)

	assert.True(t, l.Sources("1")[0].AmountDebited.IsZero())
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	amount := decimal.NewFromInt(50)
	order, _ := l.AddOrder("2", domain.MethodMTNMomo, amount)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			source, err := l.FirstAllocatedSource(ctx, order)
			if err != nil {
				return
			}
			if l.Debit(ctx, source, amount) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.True(t, l.Sources("2")[0].AmountDebited.Equal(amount))
}

func TestOrderLocker(t *testing.T) {
	ctx := context.Background()
	l := NewOrderLocker()

	release, err := l.Acquire(ctx, "22333")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "22333")
	assert.ErrorIs(t, err, domain.ErrOrderLocked)

	other, err := l.Acquire(ctx, "1")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "22333")
	require.NoError(t, err)
	again()
}
