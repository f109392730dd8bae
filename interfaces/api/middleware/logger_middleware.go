package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

// LoggerMiddleware logs each request to the api category and records its
// latency. Paths are labelled by route pattern to keep metric cardinality flat.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := c.Route().Path
		elapsed := time.Since(start)

		metrics.HTTPRequestDuration.
			WithLabelValues(c.Method(), path, strconv.Itoa(status)).
			Observe(elapsed.Seconds())

		if path != "/metrics" && path != "/health" {
			logger.API("request", c.Method()+" "+c.OriginalURL(), map[string]interface{}{
				"status":     status,
				"latency_ms": elapsed.Milliseconds(),
				"ip":         c.IP(),
			})
		}
		return err
	}
}

func CorsMiddleware() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Admin-Token",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	})
}
