package serviceimpl

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
)

type MaintenanceServiceImpl struct {
	photoRepo  repositories.PhotoRepository
	faceRepo   repositories.FaceRepository
	personRepo repositories.PersonRepository
	objectRepo repositories.CloudObjectRepository
	router     services.Router
	noFacesDir string
	remoteRoot string
}

func NewMaintenanceService(
	photoRepo repositories.PhotoRepository,
	faceRepo repositories.FaceRepository,
	personRepo repositories.PersonRepository,
	objectRepo repositories.CloudObjectRepository,
	router services.Router,
	paths config.PathsConfig,
	remoteRoot string,
) services.MaintenanceService {
	return &MaintenanceServiceImpl{
		photoRepo:  photoRepo,
		faceRepo:   faceRepo,
		personRepo: personRepo,
		objectRepo: objectRepo,
		router:     router,
		noFacesDir: paths.NoFacesDir(),
		remoteRoot: remoteRoot,
	}
}

// ResetPhotos sends matching photos back to pending. With dryRun it only counts.
func (s *MaintenanceServiceImpl) ResetPhotos(ctx context.Context, filter repositories.PhotoFilter, dryRun bool) (int64, error) {
	if filter.Empty() {
		return 0, repositories.ErrEmptyFilter
	}
	if dryRun {
		return s.photoRepo.Count(ctx, filter)
	}

	// Routed copies are computed before the reset deletes the Face rows.
	stale, err := s.routedCopies(ctx, filter)
	if err != nil {
		return 0, err
	}

	n, err := s.photoRepo.Reset(ctx, filter)
	if err != nil {
		return 0, err
	}
	removed := removeFiles(stale)

	logger.Maintenance("photos_reset", "Photos reset to pending", map[string]interface{}{
		"count":          n,
		"ids":            filter.IDs,
		"statuses":       filter.Statuses,
		"path_contains":  filter.PathContains,
		"copies_removed": removed,
	})
	return n, nil
}

const resetPageSize = 500

// routedCopies lists the per-person, NoMatch and NoFaces copies of every
// photo the filter matches.
func (s *MaintenanceServiceImpl) routedCopies(ctx context.Context, filter repositories.PhotoFilter) ([]string, error) {
	var copies []string
	for offset := 0; ; offset += resetPageSize {
		photos, _, err := s.photoRepo.List(ctx, filter, offset, resetPageSize)
		if err != nil {
			return nil, err
		}
		for i := range photos {
			personIDs, err := s.photoRepo.GetPersonIDs(ctx, photos[i].ID)
			if err != nil {
				return nil, err
			}
			copies = append(copies, s.expectedCopies(&photos[i], personIDs)...)
		}
		if len(photos) < resetPageSize {
			return copies, nil
		}
	}
}

// removeFiles deletes each path and returns how many are gone.
func removeFiles(paths []string) int {
	removed := 0
	for _, f := range paths {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn(logger.CategoryMaintenance, "remove_file_failed", "Could not remove derived file", map[string]interface{}{
				"path":  f,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed
}

// expectedCopies lists the routed copies a photo should have on disk.
func (s *MaintenanceServiceImpl) expectedCopies(photo *models.Photo, personIDs []uint) []string {
	switch photo.Status {
	case models.PhotoStatusCompleted:
		return s.router.Destinations(personIDs, photo.FileName)
	case models.PhotoStatusNoFaces:
		return []string{filepath.Join(s.noFacesDir, photo.FileName)}
	default:
		return nil
	}
}

func exists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func (s *MaintenanceServiceImpl) VerifyPhoto(ctx context.Context, id uint) (*services.PhotoVerification, error) {
	photo, err := s.photoRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	personIDs, err := s.photoRepo.GetPersonIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	faces, err := s.faceRepo.GetByPhoto(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &services.PhotoVerification{
		Photo:         photo,
		PersonIDs:     personIDs,
		Destinations:  s.expectedCopies(photo, personIDs),
		Present:       make(map[string]bool),
		ProcessedOK:   true,
		ThumbnailOK:   true,
		FaceRowsMatch: len(faces) == photo.FaceCount,
	}
	for _, d := range v.Destinations {
		v.Present[d] = exists(d)
	}
	if photo.Status == models.PhotoStatusCompleted {
		v.ProcessedOK = exists(photo.ProcessedPath)
		v.ThumbnailOK = exists(photo.ThumbnailPath)
	}
	return v, nil
}

// PurgePhoto deletes the row and its faces, freeing the content hash for a
// new drop. With withFiles the derived files go too; the original stays.
func (s *MaintenanceServiceImpl) PurgePhoto(ctx context.Context, id uint, withFiles bool) error {
	photo, err := s.photoRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var files []string
	if withFiles {
		personIDs, err := s.photoRepo.GetPersonIDs(ctx, id)
		if err != nil {
			return err
		}
		files = append(s.expectedCopies(photo, personIDs), photo.ProcessedPath, photo.ThumbnailPath)
	}

	if err := s.photoRepo.Purge(ctx, id); err != nil {
		return err
	}

	removed := removeFiles(files)

	logger.Maintenance("photo_purged", "Photo purged", map[string]interface{}{
		"photo_id":      id,
		"content_hash":  photo.ContentHash,
		"files_removed": removed,
	})
	return nil
}

func (s *MaintenanceServiceImpl) Stats(ctx context.Context) (*services.PipelineStats, error) {
	byStatus, err := s.photoRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &services.PipelineStats{ByStatus: make(map[models.PhotoStatus]int64)}
	for _, st := range models.AllPhotoStatuses {
		stats.ByStatus[st] = byStatus[st]
		stats.Total += byStatus[st]
	}

	_, persons, err := s.personRepo.List(ctx, 0, 1)
	if err != nil {
		return nil, err
	}
	stats.Persons = persons

	if s.remoteRoot != "" {
		mirrored, err := s.objectRepo.Count(ctx, s.remoteRoot)
		if err != nil {
			return nil, err
		}
		stats.Mirrored = mirrored
	}
	return stats, nil
}
