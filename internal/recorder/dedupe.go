package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers recorded event ids for a window so redelivered
// events are stored once.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func dedupeKey(eventID uuid.UUID) string {
	return fmt.Sprintf("payment:outcome-seen:%s", eventID)
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := d.rdb.Exists(ctx, dedupeKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID uuid.UUID) error {
	if err := d.rdb.Set(ctx, dedupeKey(eventID), 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
