package database

import (
	"context"

	"gorm.io/gorm"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

type FaceRepositoryImpl struct {
	db *gorm.DB
}

func NewFaceRepository(db *gorm.DB) repositories.FaceRepository {
	return &FaceRepositoryImpl{db: db}
}

func (r *FaceRepositoryImpl) GetByPhoto(ctx context.Context, photoID uint) ([]models.Face, error) {
	var faces []models.Face
	err := r.db.WithContext(ctx).Where("photo_id = ?", photoID).Order("id ASC").Find(&faces).Error
	return faces, err
}

func (r *FaceRepositoryImpl) GetByPerson(ctx context.Context, personID uint, offset, limit int) ([]models.Face, int64, error) {
	var faces []models.Face
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Face{}).Where("person_id = ?", personID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("person_id = ?", personID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&faces).Error

	return faces, total, err
}

func (r *FaceRepositoryImpl) CountByPerson(ctx context.Context) (map[uint]int64, error) {
	var rows []struct {
		PersonID uint
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&models.Face{}).
		Select("person_id, COUNT(*) AS count").
		Where("person_id IS NOT NULL").
		Group("person_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.PersonID] = row.Count
	}
	return counts, nil
}
