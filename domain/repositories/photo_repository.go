package repositories

import (
	"context"
	"time"

	"faceforward/domain/models"
)

// PhotoFilter selects photos for listing and maintenance operations.
// Empty fields match everything.
type PhotoFilter struct {
	IDs          []uint
	Statuses     []models.PhotoStatus
	PathContains string // substring of original_path
}

func (f PhotoFilter) Empty() bool {
	return len(f.IDs) == 0 && len(f.Statuses) == 0 && f.PathContains == ""
}

// PhotoResult is what a worker commits when it releases a claim.
type PhotoResult struct {
	Status        models.PhotoStatus
	ProcessedPath string
	ThumbnailPath string
	ErrorDetail   string
	Attempts      int
	Faces         []*models.Face
}

type PhotoRepository interface {
	// Intake
	Create(ctx context.Context, photo *models.Photo) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Photo, error)
	GetByContentHash(ctx context.Context, hash string) (*models.Photo, error)
	UniqueFileName(ctx context.Context, name string) (string, error)

	// Claim protocol
	ListIDsByStatus(ctx context.Context, status models.PhotoStatus, limit int) ([]uint, error)
	Claim(ctx context.Context, id uint, claimID string) (bool, error)
	Finish(ctx context.Context, id uint, claimID string, result PhotoResult) error
	RecoverOrphans(ctx context.Context, ceiling int, claimedBefore time.Time) (reset int64, stuck int64, err error)

	// Routing
	GetPersonIDs(ctx context.Context, photoID uint) ([]uint, error)

	// Maintenance
	List(ctx context.Context, filter PhotoFilter, offset, limit int) ([]models.Photo, int64, error)
	Count(ctx context.Context, filter PhotoFilter) (int64, error)
	CountByStatus(ctx context.Context) (map[models.PhotoStatus]int64, error)
	Reset(ctx context.Context, filter PhotoFilter) (int64, error)
	Purge(ctx context.Context, id uint) error
}
