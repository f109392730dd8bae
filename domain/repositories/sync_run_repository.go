package repositories

import (
	"context"

	"github.com/google/uuid"

	"faceforward/domain/models"
)

type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Update(ctx context.Context, run *models.SyncRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	GetLatest(ctx context.Context, kind models.SyncRunKind) (*models.SyncRun, error)
	List(ctx context.Context, offset, limit int) ([]models.SyncRun, int64, error)
}
