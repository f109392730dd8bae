package repositories

import (
	"context"

	"faceforward/domain/models"
)

type FaceRepository interface {
	GetByPhoto(ctx context.Context, photoID uint) ([]models.Face, error)
	GetByPerson(ctx context.Context, personID uint, offset, limit int) ([]models.Face, int64, error)
	CountByPerson(ctx context.Context) (map[uint]int64, error)
}
