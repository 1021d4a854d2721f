package security

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

const DefaultRequestsPerMinute = 30

// RateLimiter counts requests per client in fixed one-minute windows kept
// in Redis, so every instance shares the same budget.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), window: time.Minute}
}

// Middleware rejects suspicious user agents and clients over their budget.
// Redis failures let the request through.
func (r *RateLimiter) Middleware(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
		return apis.NewForbiddenError("Access denied", nil)
	}

	ctx := e.Request.Context()
	// forwarding headers count only when listed in the trusted proxy settings
	key := fmt.Sprintf("ratelimit:%s", e.RealIP())

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("Rate limiter unavailable", "key", key, "error", err)
		return e.Next()
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			slog.Warn("Failed to set rate limit window", "key", key, "error", err)
		}
	}
	if count > r.limit {
		return apis.NewTooManyRequestsError("Too many requests", nil)
	}

	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
