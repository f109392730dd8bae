package utils

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every API endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type PaginatedData struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

func SuccessResponse(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func PaginatedResponse(c *fiber.Ctx, message string, items interface{}, total int64, offset, limit int) error {
	return SuccessResponse(c, message, PaginatedData{
		Items:  items,
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}

func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	resp := Response{
		Success: false,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.Status(status).JSON(resp)
}

func UnauthorizedResponse(c *fiber.Ctx, message string) error {
	return ErrorResponse(c, fiber.StatusUnauthorized, message, nil)
}

func NotFoundResponse(c *fiber.Ctx, message string) error {
	return ErrorResponse(c, fiber.StatusNotFound, message, nil)
}

// Pagination reads offset and limit query params, clamping limit to max.
func Pagination(c *fiber.Ctx, defaultLimit, max int) (int, int) {
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 || limit > max {
		limit = max
	}
	return offset, limit
}
