package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// degradedThreshold consecutive failures within the window flips a channel
// to degraded.
const degradedThreshold = 3

// RedisHealth tracks consecutive delivery failures per channel in redis. A
// success clears the counter; the TTL ages stale failures out on its own.
type RedisHealth struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisHealth(rdb *redis.Client, window time.Duration) *RedisHealth {
	return &RedisHealth{rdb: rdb, window: window}
}

func key(ch Channel) string { return "notify:failures:" + string(ch) }

func (h *RedisHealth) RecordFailure(ctx context.Context, ch Channel) error {
	pipe := h.rdb.TxPipeline()
	pipe.Incr(ctx, key(ch))
	pipe.Expire(ctx, key(ch), h.window)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *RedisHealth) RecordSuccess(ctx context.Context, ch Channel) error {
	return h.rdb.Del(ctx, key(ch)).Err()
}

func (h *RedisHealth) Degraded(ctx context.Context, ch Channel) (bool, error) {
	n, err := h.rdb.Get(ctx, key(ch)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= degradedThreshold, nil
}
