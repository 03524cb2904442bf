package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLimiter implements Limiter on a Redis sorted set per key, scored
// by event time. Old entries are evicted lazily on each check and the
// whole key expires after one idle window.
type RedisLimiter struct {
	rdb *redis.Client
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// Check records an event and returns the window count. A Redis failure
// fails open with Remaining=-1 so callers can surface degraded mode
// without rejecting traffic.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := time.Now()
	cutoff := now.Add(-window).UnixMilli()

	// Distinct events within the same millisecond must stay distinct
	// members, hence the unique suffix.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limit check degraded", "key", key, "error", err)
		return degraded()
	}

	return resolve(int(card.Val()), limit)
}
