package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/media"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
)

type RouterImpl struct {
	photoRepo  repositories.PhotoRepository
	peopleDir  string
	noMatchDir string
}

func NewRouter(photoRepo repositories.PhotoRepository, paths config.PathsConfig) services.Router {
	return &RouterImpl{
		photoRepo:  photoRepo,
		peopleDir:  paths.PeopleDir(),
		noMatchDir: paths.NoMatchDir(),
	}
}

// dedupeSorted returns the distinct non-zero ids in ascending order.
func dedupeSorted(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *RouterImpl) Destinations(personIDs []uint, fileName string) []string {
	ids := dedupeSorted(personIDs)
	if len(ids) == 0 {
		return []string{filepath.Join(r.noMatchDir, fileName)}
	}

	dests := make([]string, len(ids))
	for i, id := range ids {
		dests[i] = filepath.Join(r.peopleDir, strconv.FormatUint(uint64(id), 10), fileName)
	}
	return dests
}

// Route copies source to every destination. Copies overwrite, so a retry
// after a partial failure converges on the same tree.
func (r *RouterImpl) Route(ctx context.Context, fileName string, personIDs []uint, source string) ([]string, error) {
	dests := r.Destinations(personIDs, fileName)

	var errs []error
	for _, dst := range dests {
		if err := ctx.Err(); err != nil {
			return dests, err
		}
		if err := media.CopyFile(source, dst); err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", dst, err))
		}
	}
	if len(errs) > 0 {
		return dests, services.Transient("route "+fileName, errors.Join(errs...))
	}

	logger.Router("routed", "Photo copied to destinations", map[string]interface{}{
		"file_name":    fileName,
		"destinations": len(dests),
	})
	return dests, nil
}

func (r *RouterImpl) RouteFromStore(ctx context.Context, photoID uint) ([]string, error) {
	photo, err := r.photoRepo.GetByID(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if photo.ProcessedPath == "" {
		return nil, fmt.Errorf("photo %d has no processed copy", photoID)
	}

	ids, err := r.photoRepo.GetPersonIDs(ctx, photoID)
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, photo.FileName, ids, photo.ProcessedPath)
}
