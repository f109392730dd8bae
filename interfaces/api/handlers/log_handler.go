package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"faceforward/pkg/logger"
	"faceforward/pkg/utils"
)

// LogHandler serves the category log files. Access is checked by the admin
// token middleware.
type LogHandler struct{}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

// GetLogs returns the newest entries of one day.
// Query: lines, level (minimum), category, search, date (YYYY-MM-DD).
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	opts := logger.ReadLogsOptions{
		Lines:  c.QueryInt("lines", 100),
		Search: c.Query("search"),
	}

	if raw := c.Query("level"); raw != "" {
		level, ok := logger.ParseLevel(raw)
		if !ok {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown level", fmt.Errorf("level %q", raw))
		}
		opts.MinLevel = level
	}
	if raw := c.Query("category"); raw != "" {
		cat, ok := logger.ParseCategory(raw)
		if !ok {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown category", fmt.Errorf("category %q", raw))
		}
		opts.Category = cat
	}
	day, err := queryDate(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid date", err)
	}
	opts.Date = day

	entries, err := logger.ReadLogs(opts)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read logs", err)
	}

	return utils.SuccessResponse(c, "Logs retrieved", fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *LogHandler) GetLogFiles(c *fiber.Ctx) error {
	files, err := logger.ListLogFiles()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list log files", err)
	}

	return utils.SuccessResponse(c, "Log files retrieved", fiber.Map{
		"files":   files,
		"log_dir": logger.GetLogDir(),
	})
}

func (h *LogHandler) GetLogStats(c *fiber.Ctx) error {
	day, err := queryDate(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid date", err)
	}

	stats, err := logger.Stats(day)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read log stats", err)
	}
	return utils.SuccessResponse(c, "Log stats retrieved", stats)
}

// queryDate parses the optional date query; the zero time means today.
func queryDate(c *fiber.Ctx) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", raw, time.Local)
}
