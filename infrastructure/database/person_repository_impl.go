package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

type PersonRepositoryImpl struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) repositories.PersonRepository {
	return &PersonRepositoryImpl{db: db}
}

func (r *PersonRepositoryImpl) CreateWithEmbedding(ctx context.Context, src repositories.EmbeddingSource, embedding pgvector.Vector, confidence float64) (*models.Person, error) {
	person := &models.Person{
		Centroid:       embedding,
		EmbeddingCount: 1,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(person).Error; err != nil {
			return err
		}
		person.Label = models.DefaultPersonLabel(person.ID)
		if err := tx.Model(&models.Person{}).Where("id = ?", person.ID).Update("label", person.Label).Error; err != nil {
			return err
		}
		return tx.Create(&models.PersonEmbedding{
			PersonID:       person.ID,
			PhotoID:        src.PhotoID,
			RunToken:       src.Token,
			Embedding:      embedding,
			FaceConfidence: confidence,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

func (r *PersonRepositoryImpl) AddEmbedding(ctx context.Context, src repositories.EmbeddingSource, personID uint, embedding pgvector.Vector, confidence float64, centroid pgvector.Vector) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Person{}).
			Where("id = ?", personID).
			Updates(map[string]interface{}{
				"centroid":        centroid,
				"embedding_count": gorm.Expr("embedding_count + 1"),
				"updated_at":      time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repositories.ErrNotFound
		}
		return tx.Create(&models.PersonEmbedding{
			PersonID:       personID,
			PhotoID:        src.PhotoID,
			RunToken:       src.Token,
			Embedding:      embedding,
			FaceConfidence: confidence,
		}).Error
	})
}

func (r *PersonRepositoryImpl) DiscardEmbeddings(ctx context.Context, src repositories.EmbeddingSource) (int64, error) {
	return r.discard(ctx, "photo_id = ? AND run_token = ?", src.PhotoID, src.Token)
}

func (r *PersonRepositoryImpl) DiscardStaleEmbeddings(ctx context.Context, src repositories.EmbeddingSource) (int64, error) {
	return r.discard(ctx, "photo_id = ? AND run_token <> ?", src.PhotoID, src.Token)
}

// discard deletes the matching references, then rebuilds each affected
// person from what is left. A centroid is the plain mean of its references.
func (r *PersonRepositoryImpl) discard(ctx context.Context, where string, args ...interface{}) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var personIDs []uint
		if err := tx.Model(&models.PersonEmbedding{}).Where(where, args...).
			Distinct().Pluck("person_id", &personIDs).Error; err != nil {
			return err
		}
		if len(personIDs) == 0 {
			return nil
		}

		result := tx.Where(where, args...).Delete(&models.PersonEmbedding{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected

		for _, personID := range personIDs {
			if err := rebuildPerson(tx, personID); err != nil {
				return fmt.Errorf("rebuild person %d: %w", personID, err)
			}
		}
		return nil
	})
	return removed, err
}

func rebuildPerson(tx *gorm.DB, personID uint) error {
	var refs []models.PersonEmbedding
	if err := tx.Where("person_id = ?", personID).Order("id ASC").Find(&refs).Error; err != nil {
		return err
	}

	if len(refs) == 0 {
		var faces int64
		if err := tx.Model(&models.Face{}).Where("person_id = ?", personID).Count(&faces).Error; err != nil {
			return err
		}
		if faces == 0 {
			return tx.Delete(&models.Person{}, personID).Error
		}
		return tx.Model(&models.Person{}).Where("id = ?", personID).
			Updates(map[string]interface{}{"embedding_count": 0, "updated_at": time.Now().UTC()}).Error
	}

	mean := make([]float32, len(refs[0].Embedding.Slice()))
	for i, ref := range refs {
		v := ref.Embedding.Slice()
		if len(v) != len(mean) {
			return fmt.Errorf("reference %d has %d dimensions, want %d", ref.ID, len(v), len(mean))
		}
		n := float32(i)
		for k := range mean {
			mean[k] = (mean[k]*n + v[k]) / (n + 1)
		}
	}
	return tx.Model(&models.Person{}).Where("id = ?", personID).
		Updates(map[string]interface{}{
			"centroid":        pgvector.NewVector(mean),
			"embedding_count": len(refs),
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *PersonRepositoryImpl) GetByID(ctx context.Context, id uint) (*models.Person, error) {
	var person models.Person
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&person).Error; err != nil {
		return nil, notFound(err)
	}
	return &person, nil
}

func (r *PersonRepositoryImpl) ListCentroids(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	err := r.db.WithContext(ctx).
		Select("id", "label", "centroid", "embedding_count").
		Order("id ASC").
		Find(&persons).Error
	return persons, err
}

func (r *PersonRepositoryImpl) List(ctx context.Context, offset, limit int) ([]models.Person, int64, error) {
	var persons []models.Person
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Person{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&persons).Error
	return persons, total, err
}

func (r *PersonRepositoryImpl) UpdateLabel(ctx context.Context, id uint, label string) error {
	result := r.db.WithContext(ctx).Model(&models.Person{}).Where("id = ?", id).
		Updates(map[string]interface{}{"label": label, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
