package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

type CloudObjectRepositoryImpl struct {
	db *gorm.DB
}

func NewCloudObjectRepository(db *gorm.DB) repositories.CloudObjectRepository {
	return &CloudObjectRepositoryImpl{db: db}
}

func (r *CloudObjectRepositoryImpl) Get(ctx context.Context, remoteRoot, relativePath string) (*models.CloudObject, error) {
	var obj models.CloudObject
	err := r.db.WithContext(ctx).
		Where("remote_root = ? AND relative_path = ?", remoteRoot, relativePath).
		First(&obj).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &obj, nil
}

func (r *CloudObjectRepositoryImpl) Upsert(ctx context.Context, obj *models.CloudObject) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "remote_root"}, {Name: "relative_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"remote_id", "size", "mod_time", "uploaded_at"}),
		}).
		Create(obj).Error
}

func (r *CloudObjectRepositoryImpl) Clear(ctx context.Context, remoteRoot string) (int64, error) {
	result := r.db.WithContext(ctx).Where("remote_root = ?", remoteRoot).Delete(&models.CloudObject{})
	return result.RowsAffected, result.Error
}

func (r *CloudObjectRepositoryImpl) Count(ctx context.Context, remoteRoot string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CloudObject{}).Where("remote_root = ?", remoteRoot).Count(&count).Error
	return count, err
}
