package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/response"
	"go.uber.org/zap"
)

// Counter is the subset of the Redis cache used for quota accounting.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// UploadQuota caps how many imports one user may start per window.
type UploadQuota struct {
	counter Counter
	limit   int64
	window  time.Duration
}

// NewUploadQuota creates a quota. limit <= 0 disables it.
func NewUploadQuota(counter Counter, limit int, window time.Duration) *UploadQuota {
	if window <= 0 {
		window = time.Hour
	}
	return &UploadQuota{counter: counter, limit: int64(limit), window: window}
}

// Handler must run after AuthMiddleware.Required.
func (q *UploadQuota) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if q == nil || q.counter == nil || q.limit <= 0 {
			return c.Next()
		}
		userID, ok := GetUserID(c)
		if !ok {
			return c.Next()
		}

		ctx := c.UserContext()
		key := fmt.Sprintf("quota:imports:%d", userID)
		n, err := q.counter.Increment(ctx, key)
		if err != nil {
			// Redis being down must not block uploads.
			logger.Log.Warn("upload quota check failed", zap.Uint("user_id", userID), zap.Error(err))
			return c.Next()
		}
		if n == 1 {
			if err := q.counter.Expire(ctx, key, q.window); err != nil {
				logger.Log.Warn("upload quota expire failed", zap.Error(err))
			}
		}
		if n > q.limit {
			retryAfter := int(q.window.Seconds())
			if ttl, err := q.counter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = int(ttl.Seconds())
			}
			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return response.Error(c, fiber.StatusTooManyRequests,
				fmt.Sprintf("Import limit of %d per %s reached. Try again in %d seconds", q.limit, q.window, retryAfter),
				"RATE_LIMIT_EXCEEDED")
		}
		return c.Next()
	}
}
