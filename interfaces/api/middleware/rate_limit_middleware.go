package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
	"faceforward/pkg/utils"
)

var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter limits requests per client IP. Reads under /admin/logs are
// exempt so an operator tailing logs does not lock out maintenance calls.
func RateLimiter(cfg *config.RateLimitConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return limiter.New(limiter.Config{
		Max:        cfg.MaxRequests,
		Expiration: time.Duration(cfg.WindowSeconds) * time.Second,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet && strings.HasPrefix(c.Path(), "/api/v1/admin/logs")
		},
		LimitReached: func(c *fiber.Ctx) error {
			metrics.RateLimited.Inc()
			logger.Warn(logger.CategoryAPI, "rate_limited", "Too many requests", map[string]interface{}{
				"ip":   c.IP(),
				"path": c.Path(),
			})
			return utils.ErrorResponse(c, fiber.StatusTooManyRequests, "Too many requests, try again later", errRateLimited)
		},
	})
}
