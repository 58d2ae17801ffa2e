/**
 * @description
 * Per-user rate limiting for the authenticated API. Every onboarding step is
 * at least one ledger round trip, so callers are throttled before they can
 * exhaust the ledger's own rate limit for the platform.
 */
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter counts one hit for subject within scope's current window.
type RateLimiter interface {
	Consume(ctx context.Context, scope, subject string, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter is a fixed-window counter shared by every replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter storing counters under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "onboarding"
	}
	return &RedisRateLimiter{client: client, prefix: trimmedPrefix + ":rate_limit"}
}

// Consume increments the window counter and returns it with the seconds left
// in the window.
func (r *RedisRateLimiter) Consume(ctx context.Context, scope, subject string, window time.Duration) (int, int, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}
	return int(currentCount), retryAfter(ttlMs), nil
}

func retryAfter(ttlMs int64) int {
	seconds := int(math.Ceil(float64(ttlMs) / 1000.0))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RateLimitMiddleware allows limit requests per user per window. It must run
// after AuthMiddleware. Limiter failures let the request through.
func RateLimitMiddleware(limiter RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserIDFromContext(r.Context())
			if userID == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			count, retry, err := limiter.Consume(r.Context(), "api", userID, window)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
