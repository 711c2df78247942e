package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Limiter defaults to NewMemoryLimiter.
	Limiter Limiter
	Logger  zerolog.Logger
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int, err error)
}

// MemoryLimiter keeps one x/time/rate limiter per key.
type MemoryLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{limit: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	allowed, retry := l.allowAt(key, time.Now())
	return allowed, retry, nil
}

// allowAt takes a token for key at now, or reports whole seconds until one
// is available. Refused reservations are cancelled so they cost nothing.
func (l *MemoryLimiter) allowAt(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, int(math.Ceil(delay.Seconds()))
}

// RedisLimiter is a fixed one-second window counter shared by all replicas.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, limit int) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RedisLimiter{client: client, limit: int64(limit), now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	window := l.now().Unix()
	redisKey := fmt.Sprintf("clinic:ratelimit:%s:%d", key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if incr.Val() > l.limit {
		return false, 1, nil
	}
	return true, 0, nil
}

// rateLimitKey identifies the caller: authenticated user when known, else IP.
func rateLimitKey(c echo.Context) string {
	if uid, ok := c.Get("user_id").(string); ok && uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a rate limiting middleware. Limiter errors fail open.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, retryAfter, err := limiter.Allow(c.Request().Context(), rateLimitKey(c))
			if err != nil {
				cfg.Logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
