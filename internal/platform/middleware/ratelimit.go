package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 600}
}

// Limiter counts requests per key in fixed one-minute windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (allowed bool, remaining int, err error)
}

// RedisLimiter shares windows across replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (bool, int, error) {
	window := now.Truncate(time.Minute).Unix()
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	n := int(incr.Val())
	return n <= limit, max(limit-n, 0), nil
}

// LocalLimiter keeps windows in process memory, for single-instance and
// development deployments.
type LocalLimiter struct {
	mu      sync.Mutex
	windows map[string]localWindow
}

type localWindow struct {
	start time.Time
	count int
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{windows: make(map[string]localWindow)}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (bool, int, error) {
	start := now.Truncate(time.Minute)
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if !w.start.Equal(start) {
		w = localWindow{start: start}
	}
	w.count++
	l.windows[key] = w
	return w.count <= limit, max(limit-w.count, 0), nil
}

// RateLimit rejects callers over their per-minute budget with 429. Keys are
// tenant plus client IP. A limiter error lets the request through.
func RateLimit(cfg RateLimitConfig, limiter Limiter) echo.MiddlewareFunc {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	limit := strconv.Itoa(cfg.RequestsPerMinute)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			now := time.Now()
			allowed, remaining, err := limiter.Allow(c.Request().Context(), key, cfg.RequestsPerMinute, now)
			if err != nil {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				reset := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
				h.Set("Retry-After", strconv.Itoa(int(reset.Seconds())+1))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
