package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceforward/interfaces/api/handlers"
	"faceforward/interfaces/api/middleware"
	"faceforward/pkg/config"
)

func SetupRoutes(app *fiber.App, h *handlers.Handlers, cfg *config.ServerConfig) {
	SetupHealthRoutes(app, h)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1", middleware.RateLimiter(&cfg.RateLimit))
	admin := api.Group("/admin", middleware.AdminToken(cfg.AdminToken))

	SetupPhotoRoutes(admin, h)
	SetupPersonRoutes(admin, h)
	SetupSyncRoutes(admin, h)
	SetupStatsRoutes(admin, h)
	SetupLogRoutes(admin, h)
}

func SetupHealthRoutes(app *fiber.App, h *handlers.Handlers) {
	app.Get("/health", h.Health.Health)
	app.Get("/health/detailed", h.Health.DetailedHealth)
}

func SetupPhotoRoutes(router fiber.Router, h *handlers.Handlers) {
	photos := router.Group("/photos")
	photos.Get("/", h.Photo.ListPhotos)
	photos.Post("/reset", h.Photo.ResetPhotos)
	photos.Get("/:id", h.Photo.GetPhoto)
	photos.Get("/:id/verify", h.Photo.VerifyPhoto)
	photos.Post("/:id/reroute", h.Photo.ReroutePhoto)
	photos.Delete("/:id", h.Photo.PurgePhoto)
}

func SetupPersonRoutes(router fiber.Router, h *handlers.Handlers) {
	persons := router.Group("/persons")
	persons.Get("/", h.Person.ListPersons)
	persons.Patch("/:id", h.Person.RenamePerson)
	persons.Get("/:id/faces", h.Person.GetPersonFaces)
}

func SetupSyncRoutes(router fiber.Router, h *handlers.Handlers) {
	sync := router.Group("/sync")
	sync.Get("/runs", h.Sync.ListRuns)
	sync.Get("/runs/latest", h.Sync.LatestRun)
	sync.Post("/backlog", h.Sync.TriggerBacklog)
	sync.Post("/reconcile", h.Sync.Reconcile)
}

func SetupStatsRoutes(router fiber.Router, h *handlers.Handlers) {
	router.Get("/stats", h.Stats.GetStats)
	router.Get("/workers", h.Stats.GetWorkers)
	router.Get("/jobs", h.Stats.GetJobs)
}

// SetupLogRoutes sets up log-related routes
func SetupLogRoutes(router fiber.Router, h *handlers.Handlers) {
	router.Get("/logs", h.Log.GetLogs)
	router.Get("/logs/files", h.Log.GetLogFiles)
	router.Get("/logs/stats", h.Log.GetLogStats)
}
