package services

import (
	"context"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
)

// PhotoVerification is the routing outcome of one photo as seen on disk.
type PhotoVerification struct {
	Photo         *models.Photo   `json:"photo"`
	PersonIDs     []uint          `json:"person_ids"`
	Destinations  []string        `json:"destinations"`
	Present       map[string]bool `json:"present"`
	ProcessedOK   bool            `json:"processed_ok"`
	ThumbnailOK   bool            `json:"thumbnail_ok"`
	FaceRowsMatch bool            `json:"face_rows_match"`
}

// Complete reports whether every expected file exists.
func (v *PhotoVerification) Complete() bool {
	for _, ok := range v.Present {
		if !ok {
			return false
		}
	}
	return v.ProcessedOK && v.FaceRowsMatch
}

type PipelineStats struct {
	ByStatus map[models.PhotoStatus]int64 `json:"by_status"`
	Total    int64                        `json:"total"`
	Persons  int64                        `json:"persons"`
	Mirrored int64                        `json:"mirrored"`
}

type MaintenanceService interface {
	ResetPhotos(ctx context.Context, filter repositories.PhotoFilter, dryRun bool) (int64, error)
	VerifyPhoto(ctx context.Context, id uint) (*PhotoVerification, error)
	PurgePhoto(ctx context.Context, id uint, removeFiles bool) error
	Stats(ctx context.Context) (*PipelineStats, error)
}
