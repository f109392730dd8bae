package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/pkg/logger"
	"faceforward/pkg/utils"
)

type PhotoHandler struct {
	maintenance services.MaintenanceService
	router      services.Router
	photoRepo   repositories.PhotoRepository
	faceRepo    repositories.FaceRepository
}

func NewPhotoHandler(
	maintenance services.MaintenanceService,
	router services.Router,
	photoRepo repositories.PhotoRepository,
	faceRepo repositories.FaceRepository,
) *PhotoHandler {
	return &PhotoHandler{
		maintenance: maintenance,
		router:      router,
		photoRepo:   photoRepo,
		faceRepo:    faceRepo,
	}
}

// ResetRequest selects photos to send back to pending. At least one
// selector is required.
type ResetRequest struct {
	IDs          []uint   `json:"ids"`
	Statuses     []string `json:"statuses" validate:"dive,oneof=pending processing completed no_faces error stuck"`
	PathContains string   `json:"path_contains"`
	DryRun       bool     `json:"dry_run"`
}

func (r ResetRequest) Filter() repositories.PhotoFilter {
	f := repositories.PhotoFilter{IDs: r.IDs, PathContains: r.PathContains}
	for _, s := range r.Statuses {
		f.Statuses = append(f.Statuses, models.PhotoStatus(s))
	}
	return f
}

func parseStatuses(raw string) ([]models.PhotoStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.PhotoStatus
	for _, part := range strings.Split(raw, ",") {
		s := models.PhotoStatus(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, errors.New("unknown status " + string(s))
		}
		out = append(out, s)
	}
	return out, nil
}

func photoID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, errors.New("photo id must be a positive integer")
	}
	return uint(id), nil
}

// ListPhotos godoc
// @Summary List photos
// @Tags Photos
// @Security AdminToken
// @Param status query string false "Comma separated statuses"
// @Param path query string false "Substring of the original path"
// @Param offset query int false "Offset"
// @Param limit query int false "Limit"
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/photos [get]
func (h *PhotoHandler) ListPhotos(c *fiber.Ctx) error {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid status filter", err)
	}
	offset, limit := utils.Pagination(c, 50, 500)

	filter := repositories.PhotoFilter{Statuses: statuses, PathContains: c.Query("path")}
	photos, total, err := h.photoRepo.List(c.UserContext(), filter, offset, limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list photos", err)
	}
	return utils.PaginatedResponse(c, "Photos retrieved", photos, total, offset, limit)
}

func (h *PhotoHandler) GetPhoto(c *fiber.Ctx) error {
	id, err := photoID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid photo id", err)
	}
	photo, err := h.photoRepo.GetByID(c.UserContext(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "Photo not found")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get photo", err)
	}
	faces, err := h.faceRepo.GetByPhoto(c.UserContext(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get faces", err)
	}
	photo.Faces = faces
	return utils.SuccessResponse(c, "Photo retrieved", photo)
}

// VerifyPhoto godoc
// @Summary Check a photo's routed copies on disk
// @Tags Photos
// @Security AdminToken
// @Param id path int true "Photo ID"
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/photos/{id}/verify [get]
func (h *PhotoHandler) VerifyPhoto(c *fiber.Ctx) error {
	id, err := photoID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid photo id", err)
	}
	v, err := h.maintenance.VerifyPhoto(c.UserContext(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "Photo not found")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to verify photo", err)
	}
	return utils.SuccessResponse(c, "Photo verified", fiber.Map{
		"verification": v,
		"complete":     v.Complete(),
	})
}

// ReroutePhoto copies a completed photo again from its stored faces.
func (h *PhotoHandler) ReroutePhoto(c *fiber.Ctx) error {
	id, err := photoID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid photo id", err)
	}
	paths, err := h.router.RouteFromStore(c.UserContext(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "Photo not found")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to route photo", err)
	}
	logger.Maintenance("photo_rerouted", "Photo routed again", map[string]interface{}{
		"photo_id": id,
		"copies":   len(paths),
	})
	return utils.SuccessResponse(c, "Photo routed", fiber.Map{"destinations": paths})
}

// ResetPhotos godoc
// @Summary Send photos back to pending
// @Tags Photos
// @Security AdminToken
// @Accept json
// @Param body body ResetRequest true "Selection"
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/photos/reset [post]
func (h *PhotoHandler) ResetPhotos(c *fiber.Ctx) error {
	var req ResetRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	}

	n, err := h.maintenance.ResetPhotos(c.UserContext(), req.Filter(), req.DryRun)
	if errors.Is(err, repositories.ErrEmptyFilter) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Refusing to reset every photo", err)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reset photos", err)
	}
	return utils.SuccessResponse(c, "Photos reset", fiber.Map{
		"count":   n,
		"dry_run": req.DryRun,
	})
}

// PurgePhoto godoc
// @Summary Delete a photo and its faces
// @Tags Photos
// @Security AdminToken
// @Param id path int true "Photo ID"
// @Param remove_files query bool false "Also delete routed copies"
// @Success 200 {object} utils.Response
// @Router /api/v1/admin/photos/{id} [delete]
func (h *PhotoHandler) PurgePhoto(c *fiber.Ctx) error {
	id, err := photoID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid photo id", err)
	}
	err = h.maintenance.PurgePhoto(c.UserContext(), id, c.QueryBool("remove_files", false))
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "Photo not found")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to purge photo", err)
	}
	return utils.SuccessResponse(c, "Photo purged", fiber.Map{"id": id})
}
