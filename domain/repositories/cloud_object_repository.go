package repositories

import (
	"context"

	"faceforward/domain/models"
)

type CloudObjectRepository interface {
	Get(ctx context.Context, remoteRoot, relativePath string) (*models.CloudObject, error)
	Upsert(ctx context.Context, obj *models.CloudObject) error
	Clear(ctx context.Context, remoteRoot string) (int64, error)
	Count(ctx context.Context, remoteRoot string) (int64, error)
}
