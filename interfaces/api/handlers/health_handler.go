package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/faceapi"
)

// FaceAPIHealth is the part of the face client the health check needs.
type FaceAPIHealth interface {
	Health(ctx context.Context) (*faceapi.HealthResponse, error)
}

const (
	componentOK          = "ok"
	componentError       = "error"
	componentUnavailable = "unavailable"
)

type HealthHandler struct {
	db        *gorm.DB
	faceAPI   FaceAPIHealth
	cloudSync services.CloudSync
	photoRepo repositories.PhotoRepository
	runRepo   repositories.SyncRunRepository
	intakeDir string
}

func NewHealthHandler(
	db *gorm.DB,
	faceAPI FaceAPIHealth,
	cloudSync services.CloudSync,
	photoRepo repositories.PhotoRepository,
	runRepo repositories.SyncRunRepository,
	intakeDir string,
) *HealthHandler {
	return &HealthHandler{
		db:        db,
		faceAPI:   faceAPI,
		cloudSync: cloudSync,
		photoRepo: photoRepo,
		runRepo:   runRepo,
		intakeDir: intakeDir,
	}
}

type ComponentHealth struct {
	Status  string `json:"status"` // ok, error, unavailable
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type DetailedHealthResponse struct {
	Status     string                     `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Backlog    *PipelineBacklog           `json:"backlog,omitempty"`
}

// PipelineBacklog is the part of the status table an operator watches.
type PipelineBacklog struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Stuck      int64 `json:"stuck"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Health is the cheap liveness probe.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "faceforward",
	})
}

// DetailedHealth reports each dependency. The store being down makes the
// service unhealthy (503); anything else only degrades it.
func (h *HealthHandler) DetailedHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	resp := DetailedHealthResponse{
		Timestamp: time.Now(),
		Components: map[string]ComponentHealth{
			"database": h.checkDatabase(ctx),
			"face_api": h.checkFaceAPI(ctx),
			"intake":   h.checkIntake(),
			"cloud":    h.checkCloud(ctx),
		},
	}

	degraded := false
	for name, comp := range resp.Components {
		if comp.Status == componentError && name != "database" {
			degraded = true
		}
	}

	if resp.Components["database"].Status == componentOK {
		resp.Backlog = h.backlog(ctx)
		if resp.Backlog != nil && resp.Backlog.Stuck > 0 {
			degraded = true
		}
	}

	status := fiber.StatusOK
	switch {
	case resp.Components["database"].Status != componentOK:
		resp.Status = "unhealthy"
		status = fiber.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	return c.Status(status).JSON(resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.db == nil {
		return ComponentHealth{Status: componentError, Message: "Database not configured"}
	}

	start := time.Now()
	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentHealth{Status: componentError, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{Status: componentError, Message: "ping: " + err.Error()}
	}
	return ComponentHealth{Status: componentOK, Message: h.db.Dialector.Name(), Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkFaceAPI(ctx context.Context) ComponentHealth {
	if h.faceAPI == nil {
		return ComponentHealth{Status: componentUnavailable, Message: "Face API not configured"}
	}

	start := time.Now()
	health, err := h.faceAPI.Health(ctx)
	if err != nil {
		return ComponentHealth{Status: componentError, Message: err.Error()}
	}
	return ComponentHealth{
		Status:  componentOK,
		Message: fmt.Sprintf("model %s, version %s", health.Model, health.Version),
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) checkIntake() ComponentHealth {
	if h.intakeDir == "" {
		return ComponentHealth{Status: componentUnavailable}
	}
	info, err := os.Stat(h.intakeDir)
	if err != nil {
		return ComponentHealth{Status: componentError, Message: err.Error()}
	}
	if !info.IsDir() {
		return ComponentHealth{Status: componentError, Message: h.intakeDir + " is not a directory"}
	}
	return ComponentHealth{Status: componentOK, Message: h.intakeDir}
}

// checkCloud reports the backend and the outcome of the last backlog pass.
func (h *HealthHandler) checkCloud(ctx context.Context) ComponentHealth {
	if h.cloudSync == nil {
		return ComponentHealth{Status: componentUnavailable, Message: "No cloud backend configured"}
	}

	comp := ComponentHealth{Status: componentOK, Message: "mirroring to " + h.cloudSync.RemoteRoot()}
	if h.runRepo == nil {
		return comp
	}

	run, err := h.runRepo.GetLatest(ctx, models.SyncRunKindBacklog)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		comp.Message += ", no pass yet"
	case err != nil:
		comp.Message += ", last run unknown: " + err.Error()
	case run.Status == models.SyncRunStatusFailed:
		comp.Status = componentError
		comp.Message = fmt.Sprintf("last pass failed at %s: %s", run.StartedAt.Format(time.RFC3339), run.LastError)
	default:
		comp.Message += fmt.Sprintf(", last pass %s (%d uploaded, %d failed)", run.Status, run.Uploaded, run.Failed)
	}
	return comp
}

func (h *HealthHandler) backlog(ctx context.Context) *PipelineBacklog {
	if h.photoRepo == nil {
		return nil
	}
	counts, err := h.photoRepo.CountByStatus(ctx)
	if err != nil {
		return nil
	}

	b := &PipelineBacklog{
		Pending:    counts[models.PhotoStatusPending],
		Processing: counts[models.PhotoStatusProcessing],
		Stuck:      counts[models.PhotoStatusStuck],
		Failed:     counts[models.PhotoStatusError],
	}
	for _, n := range counts {
		b.Total += n
	}
	return b
}
