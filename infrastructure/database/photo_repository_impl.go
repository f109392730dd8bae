package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

type PhotoRepositoryImpl struct {
	db *gorm.DB
}

func NewPhotoRepository(db *gorm.DB) repositories.PhotoRepository {
	return &PhotoRepositoryImpl{db: db}
}

// Create inserts a pending photo. It reports false, without error, when a
// photo with the same content hash already exists.
func (r *PhotoRepositoryImpl) Create(ctx context.Context, photo *models.Photo) (bool, error) {
	if photo.Status == "" {
		photo.Status = models.PhotoStatusPending
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_hash"}},
			DoNothing: true,
		}).
		Create(photo)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, repositories.ErrDuplicateFileName
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PhotoRepositoryImpl) GetByID(ctx context.Context, id uint) (*models.Photo, error) {
	var photo models.Photo
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&photo).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &photo, nil
}

func (r *PhotoRepositoryImpl) GetByContentHash(ctx context.Context, hash string) (*models.Photo, error) {
	var photo models.Photo
	err := r.db.WithContext(ctx).Where("content_hash = ?", hash).First(&photo).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &photo, nil
}

// UniqueFileName returns name, or name with a -N suffix, that no photo uses yet.
func (r *PhotoRepositoryImpl) UniqueFileName(ctx context.Context, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 2; n < 10000; n++ {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Photo{}).Where("file_name = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

func (r *PhotoRepositoryImpl) ListIDsByStatus(ctx context.Context, status models.PhotoStatus, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Photo{}).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Claim moves one pending photo to processing. The status guard in the WHERE
// clause makes it the only synchronization point between workers: of two
// racing claimers exactly one sees a row affected.
func (r *PhotoRepositoryImpl) Claim(ctx context.Context, id uint, claimID string) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.Photo{}).
		Where("id = ? AND status = ?", id, models.PhotoStatusPending).
		Updates(map[string]interface{}{
			"status":     models.PhotoStatusProcessing,
			"claimed_by": claimID,
			"claimed_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Finish releases a claim: the terminal status and the photo's Face rows
// commit together or not at all.
func (r *PhotoRepositoryImpl) Finish(ctx context.Context, id uint, claimID string, res repositories.PhotoResult) error {
	// stuck is only reachable through recovery.
	if !res.Status.Terminal() || res.Status == models.PhotoStatusStuck {
		return fmt.Errorf("finish photo %d: %q is not a worker outcome", id, res.Status)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":         res.Status,
			"processed_path": res.ProcessedPath,
			"thumbnail_path": res.ThumbnailPath,
			"face_count":     len(res.Faces),
			"error_detail":   res.ErrorDetail,
			"attempts":       res.Attempts,
			"claimed_by":     "",
			"claimed_at":     nil,
			"updated_at":     now,
		}
		if res.Status == models.PhotoStatusCompleted || res.Status == models.PhotoStatusNoFaces {
			updates["processed_at"] = now
		}

		result := tx.Model(&models.Photo{}).
			Where("id = ? AND status = ? AND claimed_by = ?", id, models.PhotoStatusProcessing, claimID).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return repositories.ErrClaimLost
		}

		if err := tx.Where("photo_id = ?", id).Delete(&models.Face{}).Error; err != nil {
			return fmt.Errorf("failed to clear faces: %w", err)
		}
		if len(res.Faces) == 0 {
			return nil
		}
		for _, f := range res.Faces {
			f.PhotoID = id
		}
		if err := tx.CreateInBatches(res.Faces, 50).Error; err != nil {
			return fmt.Errorf("failed to save faces: %w", err)
		}
		return nil
	})
}

// RecoverOrphans returns processing rows claimed before the cutoff to pending.
// Rows that already used up the reset ceiling become stuck instead.
func (r *PhotoRepositoryImpl) RecoverOrphans(ctx context.Context, ceiling int, claimedBefore time.Time) (int64, int64, error) {
	var reset, stuck int64
	cutoff := claimedBefore.UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		orphan := "status = ? AND (claimed_at IS NULL OR claimed_at <= ?)"

		result := tx.Model(&models.Photo{}).
			Where(orphan, models.PhotoStatusProcessing, cutoff).
			Where("reset_count >= ?", ceiling).
			Updates(map[string]interface{}{
				"status":       models.PhotoStatusStuck,
				"error_detail": fmt.Sprintf("abandoned while processing %d times", ceiling+1),
				"claimed_by":   "",
				"claimed_at":   nil,
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		stuck = result.RowsAffected

		result = tx.Model(&models.Photo{}).
			Where(orphan, models.PhotoStatusProcessing, cutoff).
			Updates(map[string]interface{}{
				"status":      models.PhotoStatusPending,
				"reset_count": gorm.Expr("reset_count + 1"),
				"claimed_by":  "",
				"claimed_at":  nil,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		reset = result.RowsAffected
		return nil
	})
	return reset, stuck, err
}

// GetPersonIDs returns the photo's resolved persons, unique and ascending.
func (r *PhotoRepositoryImpl) GetPersonIDs(ctx context.Context, photoID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Face{}).
		Where("photo_id = ? AND person_id IS NOT NULL", photoID).
		Distinct("person_id").
		Order("person_id ASC").
		Pluck("person_id", &ids).Error
	return ids, err
}

func (r *PhotoRepositoryImpl) List(ctx context.Context, filter repositories.PhotoFilter, offset, limit int) ([]models.Photo, int64, error) {
	var photos []models.Photo
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Photo{}).Scopes(photoFilter(filter)).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Scopes(photoFilter(filter)).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&photos).Error

	return photos, total, err
}

func (r *PhotoRepositoryImpl) Count(ctx context.Context, filter repositories.PhotoFilter) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Photo{}).Scopes(photoFilter(filter)).Count(&count).Error
	return count, err
}

func (r *PhotoRepositoryImpl) CountByStatus(ctx context.Context) (map[models.PhotoStatus]int64, error) {
	var rows []struct {
		Status models.PhotoStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Photo{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.PhotoStatus]int64, len(models.AllPhotoStatuses))
	for _, s := range models.AllPhotoStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Reset returns matching photos to pending from any status, dropping their
// Face rows and derived fields so they are reprocessed from scratch.
func (r *PhotoRepositoryImpl) Reset(ctx context.Context, filter repositories.PhotoFilter) (int64, error) {
	if filter.Empty() {
		return 0, repositories.ErrEmptyFilter
	}

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matching := tx.Model(&models.Photo{}).Select("id").Scopes(photoFilter(filter))
		if err := tx.Where("photo_id IN (?)", matching).Delete(&models.Face{}).Error; err != nil {
			return fmt.Errorf("failed to delete faces: %w", err)
		}

		result := tx.Model(&models.Photo{}).
			Scopes(photoFilter(filter)).
			Updates(map[string]interface{}{
				"status":         models.PhotoStatusPending,
				"processed_path": "",
				"thumbnail_path": "",
				"face_count":     0,
				"processed_at":   nil,
				"error_detail":   "",
				"claimed_by":     "",
				"claimed_at":     nil,
				"reset_count":    0,
				"attempts":       0,
				"updated_at":     time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	return affected, err
}

// Purge hard-deletes a photo and its faces, freeing its content hash.
func (r *PhotoRepositoryImpl) Purge(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("photo_id = ?", id).Delete(&models.Face{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Photo{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repositories.ErrNotFound
		}
		return nil
	})
}

func photoFilter(f repositories.PhotoFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(f.IDs) > 0 {
			db = db.Where("id IN ?", f.IDs)
		}
		if len(f.Statuses) > 0 {
			db = db.Where("status IN ?", f.Statuses)
		}
		if f.PathContains != "" {
			db = db.Where("original_path LIKE ?", "%"+f.PathContains+"%")
		}
		return db
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repositories.ErrNotFound
	}
	return err
}
