package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"faceforward/pkg/logger"
	"faceforward/pkg/utils"
)

// AdminToken guards the admin API. The token comes from the X-Admin-Token
// header or the token query param. An empty configured token closes the
// admin API entirely.
func AdminToken(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expected == "" {
			return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Admin API disabled: no admin token configured", nil)
		}

		token := c.Get("X-Admin-Token")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return utils.UnauthorizedResponse(c, "Missing admin token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			logger.Warn(logger.CategoryAPI, "admin_token_rejected", "Invalid admin token", map[string]interface{}{
				"ip":   c.IP(),
				"path": c.Path(),
			})
			return utils.UnauthorizedResponse(c, "Invalid admin token")
		}
		return c.Next()
	}
}
