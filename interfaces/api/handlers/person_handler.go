package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"faceforward/domain/repositories"
	"faceforward/pkg/utils"
)

type PersonHandler struct {
	personRepo repositories.PersonRepository
	faceRepo   repositories.FaceRepository
}

func NewPersonHandler(personRepo repositories.PersonRepository, faceRepo repositories.FaceRepository) *PersonHandler {
	return &PersonHandler{
		personRepo: personRepo,
		faceRepo:   faceRepo,
	}
}

type RenameRequest struct {
	Label string `json:"label" validate:"required,max=100"`
}

type personSummary struct {
	ID             uint   `json:"id"`
	Label          string `json:"label"`
	EmbeddingCount int    `json:"embedding_count"`
	FaceCount      int64  `json:"face_count"`
}

func (h *PersonHandler) ListPersons(c *fiber.Ctx) error {
	ctx := c.UserContext()
	offset, limit := utils.Pagination(c, 50, 500)

	persons, total, err := h.personRepo.List(ctx, offset, limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list persons", err)
	}
	faceCounts, err := h.faceRepo.CountByPerson(ctx)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count faces", err)
	}

	items := make([]personSummary, 0, len(persons))
	for _, p := range persons {
		items = append(items, personSummary{
			ID:             p.ID,
			Label:          p.Label,
			EmbeddingCount: p.EmbeddingCount,
			FaceCount:      faceCounts[p.ID],
		})
	}
	return utils.PaginatedResponse(c, "Persons retrieved", items, total, offset, limit)
}

// RenamePerson changes the display label only. Routed directories stay keyed by id.
func (h *PersonHandler) RenamePerson(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid person id", err)
	}
	var req RenameRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	}

	err = h.personRepo.UpdateLabel(c.UserContext(), uint(id), req.Label)
	if errors.Is(err, repositories.ErrNotFound) {
		return utils.NotFoundResponse(c, "Person not found")
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to rename person", err)
	}
	return utils.SuccessResponse(c, "Person renamed", fiber.Map{"id": id, "label": req.Label})
}

func (h *PersonHandler) GetPersonFaces(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid person id", err)
	}
	offset, limit := utils.Pagination(c, 50, 500)

	faces, total, err := h.faceRepo.GetByPerson(c.UserContext(), uint(id), offset, limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get faces", err)
	}
	return utils.PaginatedResponse(c, "Faces retrieved", faces, total, offset, limit)
}
