package repositories

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"faceforward/domain/models"
)

// EmbeddingSource ties a reference embedding to the photo and processing
// run that added it, so an uncommitted run can be taken back.
type EmbeddingSource struct {
	PhotoID uint
	Token   string
}

type PersonRepository interface {
	// CreateWithEmbedding inserts a person whose first reference is embedding.
	CreateWithEmbedding(ctx context.Context, src EmbeddingSource, embedding pgvector.Vector, confidence float64) (*models.Person, error)
	// AddEmbedding appends a reference and stores the updated centroid.
	AddEmbedding(ctx context.Context, src EmbeddingSource, personID uint, embedding pgvector.Vector, confidence float64, centroid pgvector.Vector) error
	// DiscardEmbeddings removes the references added by src and recomputes
	// the affected centroids. Persons left with no reference and no face are deleted.
	DiscardEmbeddings(ctx context.Context, src EmbeddingSource) (int64, error)
	// DiscardStaleEmbeddings does the same for every earlier run on src.PhotoID.
	DiscardStaleEmbeddings(ctx context.Context, src EmbeddingSource) (int64, error)
	GetByID(ctx context.Context, id uint) (*models.Person, error)
	ListCentroids(ctx context.Context) ([]models.Person, error)
	List(ctx context.Context, offset, limit int) ([]models.Person, int64, error)
	UpdateLabel(ctx context.Context, id uint, label string) error
}
