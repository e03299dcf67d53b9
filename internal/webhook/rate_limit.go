package webhook

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddleware enforces a fixed-window per-IP limit on the
// webhook using Redis INCR/EXPIRE, grounded on the teacher's
// rateLimitMiddleware in internal/http/middleware.go. Returns 429 once
// the window's count exceeds limit (spec §6 "429 rate limit").
func rateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}

		bucket := c.IP()
		windowKey := time.Now().UTC().Truncate(window).Unix()
		key := fmt.Sprintf("jobfinder:webhook:rl:%s:%d", bucket, windowKey)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
