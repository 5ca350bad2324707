package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storefront-payments/internal/core/domain"
)

// releaseScript deletes the lock only if it still carries our token, so a
// session whose lock expired cannot free a lock taken by the next session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLockAdapter is a Redis implementation of the OrderLocker port shared by
// every gateway instance.
type OrderLockAdapter struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewOrderLockAdapter creates a locker whose locks expire after ttl. The TTL
// bounds how long a crashed instance can keep an order blocked.
func NewOrderLockAdapter(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *OrderLockAdapter {
	return &OrderLockAdapter{rdb: rdb, ttl: ttl, logger: logger}
}

func (a *OrderLockAdapter) Acquire(ctx context.Context, orderNumber string) (func(), error) {
	key := "payment:order-lock:" + orderNumber
	token := uuid.NewString()

	ok, err := a.rdb.SetNX(ctx, key, token, a.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("order %q: %w", orderNumber, domain.ErrOrderLocked)
	}

	return func() {
		// release must run even when the session context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, a.rdb, []string{key}, token).Err(); err != nil {
			a.logger.Warn("failed to release order lock", "order_number", orderNumber, "error", err)
		}
	}, nil
}
