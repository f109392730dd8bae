package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/pkg/logger"
	"faceforward/pkg/utils"
)

type SyncHandler struct {
	cloudSync   services.CloudSync
	syncRunRepo repositories.SyncRunRepository
	trigger     func()
}

func NewSyncHandler(cloudSync services.CloudSync, syncRunRepo repositories.SyncRunRepository, trigger func()) *SyncHandler {
	return &SyncHandler{
		cloudSync:   cloudSync,
		syncRunRepo: syncRunRepo,
		trigger:     trigger,
	}
}

type ReconcileRequest struct {
	DryRun bool `json:"dry_run"`
}

func (h *SyncHandler) unavailable(c *fiber.Ctx) error {
	return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "No cloud backend configured", nil)
}

// ListRuns godoc
// @Summary List cloud sync runs, newest first
// @Tags Sync
// @Security AdminToken
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/sync/runs [get]
func (h *SyncHandler) ListRuns(c *fiber.Ctx) error {
	offset, limit := utils.Pagination(c, 20, 200)
	runs, total, err := h.syncRunRepo.List(c.UserContext(), offset, limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list sync runs", err)
	}
	return utils.PaginatedResponse(c, "Sync runs retrieved", runs, total, offset, limit)
}

func (h *SyncHandler) LatestRun(c *fiber.Ctx) error {
	kind := models.SyncRunKind(c.Query("kind", string(models.SyncRunKindBacklog)))
	run, err := h.syncRunRepo.GetLatest(c.UserContext(), kind)
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "No sync run yet")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get sync run", err)
	}
	return utils.SuccessResponse(c, "Sync run retrieved", run)
}

// TriggerBacklog nudges the cloud worker. The pass runs in the background.
func (h *SyncHandler) TriggerBacklog(c *fiber.Ctx) error {
	if h.cloudSync == nil || h.trigger == nil {
		return h.unavailable(c)
	}
	h.trigger()
	return c.Status(fiber.StatusAccepted).JSON(utils.Response{
		Success: true,
		Message: "Backlog sync triggered",
	})
}

// Reconcile godoc
// @Summary Wipe the remote root and upload the mirror tree again
// @Description A dry run answers with the counts it would produce. A real run is started in the background.
// @Tags Sync
// @Security AdminToken
// @Accept json
// @Param body body ReconcileRequest false "Options"
// @Success 200 {object} utils.Response
// @Success 202 {object} utils.Response
// @Router /api/v1/admin/sync/reconcile [post]
func (h *SyncHandler) Reconcile(c *fiber.Ctx) error {
	if h.cloudSync == nil {
		return h.unavailable(c)
	}
	var req ReconcileRequest
	if len(c.Body()) > 0 {
		if err := utils.BindAndValidate(c, &req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
		}
	}

	if h.cloudSync.RemoteRoot() == "" {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Reconcile refused", services.ErrRemoteRootRequired)
	}

	if req.DryRun {
		run, err := h.cloudSync.Reconcile(c.UserContext(), services.ReconcileOptions{DryRun: true})
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Dry run failed", err)
		}
		return utils.SuccessResponse(c, "Dry run finished", run)
	}

	// The request context ends with the response; the pass must outlive it.
	go func() {
		if _, err := h.cloudSync.Reconcile(context.Background(), services.ReconcileOptions{}); err != nil {
			logger.CloudError("reconcile_failed", "Reconcile started from the API failed", err, nil)
		}
	}()
	logger.Maintenance("reconcile_started", "Reconcile started from the API", map[string]interface{}{
		"remote_root": h.cloudSync.RemoteRoot(),
	})
	return c.Status(fiber.StatusAccepted).JSON(utils.Response{
		Success: true,
		Message: "Reconcile started",
	})
}
