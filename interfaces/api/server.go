package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"faceforward/interfaces/api/handlers"
	"faceforward/interfaces/api/middleware"
	"faceforward/interfaces/api/routes"
	"faceforward/pkg/config"
)

// NewApp builds the admin HTTP server.
func NewApp(h *handlers.Handlers, cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.CorsMiddleware())

	routes.SetupRoutes(app, h, &cfg.Server)
	return app
}
