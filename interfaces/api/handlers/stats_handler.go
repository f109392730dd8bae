package handlers

import (
	"github.com/gofiber/fiber/v2"

	"faceforward/domain/services"
	"faceforward/pkg/scheduler"
	"faceforward/pkg/utils"
)

type StatsHandler struct {
	maintenance services.MaintenanceService
	workers     map[string]StatsProvider
	scheduler   scheduler.Scheduler
}

func NewStatsHandler(maintenance services.MaintenanceService, workers map[string]StatsProvider, sched scheduler.Scheduler) *StatsHandler {
	return &StatsHandler{
		maintenance: maintenance,
		workers:     workers,
		scheduler:   sched,
	}
}

// GetStats godoc
// @Summary Photo counts per status
// @Tags Stats
// @Security AdminToken
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/stats [get]
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.maintenance.Stats(c.UserContext())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get stats", err)
	}
	return utils.SuccessResponse(c, "Stats retrieved", stats)
}

func (h *StatsHandler) GetWorkers(c *fiber.Ctx) error {
	out := make(map[string]interface{}, len(h.workers))
	for name, w := range h.workers {
		out[name] = w.GetStats()
	}
	return utils.SuccessResponse(c, "Workers retrieved", out)
}

func (h *StatsHandler) GetJobs(c *fiber.Ctx) error {
	if h.scheduler == nil {
		return utils.SuccessResponse(c, "Jobs retrieved", fiber.Map{})
	}
	return utils.SuccessResponse(c, "Jobs retrieved", h.scheduler.ListJobs())
}
