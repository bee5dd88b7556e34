package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/promo-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimit rejects requests beyond the limiter's budget for the client IP
// with 429. A limiter error lets the request through.
func RateLimit(limiter ratelimit.RateLimiter, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		allowed, err := limiter.Allow(c.Context(), c.IP())
		if err != nil {
			logger.Warn("rate limiter unavailable",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
