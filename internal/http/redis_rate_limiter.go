package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisLimiterPrefix = "logbull:ratelimit:"

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisRateLimiter shares the submission budget across API replicas through client.
// The caller owns client. Redis errors let the request through.
func NewRedisRateLimiter(client *redis.Client, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger.With("component", "rate_limiter"),
		timeout: 250 * time.Millisecond,
	}
}

func (rl *redisRateLimiter) Allow(key string, limit int, span time.Duration) quota {
	if limit <= 0 {
		return quota{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := redisLimiterPrefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	}); err != nil {
		rl.logger.Error("redis rate limiter error", "op", "incr", "error", err)
		return quota{allowed: true}
	}
	used := int(incr.Val())
	remaining := ttl.Val()
	if remaining <= 0 {
		// First hit in this window, or a key left without expiry.
		if err := rl.client.PExpire(ctx, redisKey, span).Err(); err != nil {
			rl.logger.Error("redis rate limiter error", "op", "expire", "error", err)
		}
		remaining = span
	}
	return quota{
		allowed: used <= limit,
		used:    used,
		resetAt: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {}
