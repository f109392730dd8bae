package database

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

type SyncRunRepositoryImpl struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) repositories.SyncRunRepository {
	return &SyncRunRepositoryImpl{db: db}
}

func (r *SyncRunRepositoryImpl) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *SyncRunRepositoryImpl) Update(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *SyncRunRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

func (r *SyncRunRepositoryImpl) GetLatest(ctx context.Context, kind models.SyncRunKind) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

func (r *SyncRunRepositoryImpl) List(ctx context.Context, offset, limit int) ([]models.SyncRun, int64, error) {
	var runs []models.SyncRun
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Order("started_at DESC").Offset(offset).Limit(limit).Find(&runs).Error
	return runs, total, err
}
