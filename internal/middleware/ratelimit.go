package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/response"
)

// Counter increments a windowed counter and returns its new value
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window Counter on INCR + EXPIRE
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Counter backed by client
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments key, starting its window on the first hit
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val(), nil
}

// RateLimiter caps requests per user (or per IP before authentication)
type RateLimiter struct {
	counter  Counter
	requests int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
// requests: maximum number of requests allowed per window
func NewRateLimiter(counter Counter, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		requests: requests,
		window:   window,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			identifier = "user:" + userID
		}

		windowStart := time.Now().Truncate(rl.window).Unix()
		key := fmt.Sprintf("ratelimit:%s:%s:%d", c.FullPath(), identifier, windowStart)

		count, err := rl.counter.Incr(c.Request.Context(), key, rl.window)
		if err != nil {
			// Fail-open while Redis is unavailable
			logger.Warn("Rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(windowStart+int64(rl.window.Seconds()), 10))

		if count > int64(rl.requests) {
			response.Error(c, http.StatusTooManyRequests, string(apperrors.ErrCodeRateLimited), "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
