package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindowLimiter is a cross-process rate limiter: one INCR-counted
// budget per fixed time window, shared by all worker processes through
// redis. It fails open so a redis outage degrades to unlimited throughput
// rather than a stalled pipeline.
type FixedWindowLimiter struct {
	client *redis.Client
	name   string
	limit  int
	window time.Duration
	logger *slog.Logger
}

func NewFixedWindowLimiter(client *redis.Client, name string, limit int, window time.Duration, logger *slog.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FixedWindowLimiter{
		client: client,
		name:   name,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow consumes one slot from the current window. It returns false when
// the window budget is spent.
func (l *FixedWindowLimiter) Allow(ctx context.Context) bool {
	if l.client == nil || l.limit <= 0 {
		return true
	}

	windowStart := time.Now().Truncate(l.window).Unix()
	key := fmt.Sprintf("ratelimit:%s:%d", l.name, windowStart)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter unavailable, failing open", "error", err)
		return true
	}

	return count.Val() <= int64(l.limit)
}
