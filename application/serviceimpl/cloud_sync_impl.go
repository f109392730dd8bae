package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/media"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

var _ services.CloudSync = (*CloudSyncImpl)(nil)

// CloudSyncImpl mirrors the routed tree to a RemoteStorage backend.
// Nothing here fails the pipeline: upload problems are logged, counted
// and left for the next backlog pass.
type CloudSyncImpl struct {
	storage    services.RemoteStorage
	cache      *FolderCache
	objectRepo repositories.CloudObjectRepository
	runRepo    repositories.SyncRunRepository

	eventRoot  string
	remoteRoot string
	mirrorDirs []string

	// passMu serializes backlog and reconcile passes.
	passMu sync.Mutex
}

func NewCloudSync(
	storage services.RemoteStorage,
	cache *FolderCache,
	objectRepo repositories.CloudObjectRepository,
	runRepo repositories.SyncRunRepository,
	eventRoot string,
	remoteRoot string,
	mirrorDirs []string,
) *CloudSyncImpl {
	dirs := make([]string, 0, len(mirrorDirs))
	for _, d := range mirrorDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(eventRoot, d)
		}
		dirs = append(dirs, d)
	}
	return &CloudSyncImpl{
		storage:    storage,
		cache:      cache,
		objectRepo: objectRepo,
		runRepo:    runRepo,
		eventRoot:  eventRoot,
		remoteRoot: strings.Trim(filepath.ToSlash(strings.TrimSpace(remoteRoot)), "/"),
		mirrorDirs: dirs,
	}
}

func (s *CloudSyncImpl) RemoteRoot() string { return s.remoteRoot }

func splitPath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" && seg != "." {
			parts = append(parts, seg)
		}
	}
	return parts
}

// resolveFolder walks logicalPath from the backend root, one segment at a
// time. Cached segments cost no remote calls. With create unset a missing
// segment returns found=false.
func (s *CloudSyncImpl) resolveFolder(ctx context.Context, logicalPath string, create bool) (string, bool, error) {
	parentID := s.storage.RootID()
	current := ""

	for _, seg := range splitPath(logicalPath) {
		current = path.Join(current, seg)
		if id, ok := s.cache.Get(current); ok {
			parentID = id
			continue
		}

		id, err := s.findFolder(ctx, parentID, seg)
		if err != nil {
			return "", false, err
		}
		if id == "" {
			if !create {
				return "", false, nil
			}
			id, err = s.storage.CreateFolder(ctx, parentID, seg)
			if err != nil {
				return "", false, err
			}
			logger.Cloud("folder_created", "Remote folder created", map[string]interface{}{
				"path": current,
			})
		}
		s.cache.Put(current, id)
		parentID = id
	}
	return parentID, true, nil
}

func (s *CloudSyncImpl) findFolder(ctx context.Context, parentID, name string) (string, error) {
	children, err := s.storage.ListChildren(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.IsFolder && child.Name == name {
			return child.ID, nil
		}
	}
	return "", nil
}

func (s *CloudSyncImpl) relPath(localPath string) (string, error) {
	rel, err := filepath.Rel(s.eventRoot, localPath)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the event root", localPath)
	}
	return rel, nil
}

func (s *CloudSyncImpl) UploadFile(ctx context.Context, localPath, remoteRoot string) bool {
	_, err := s.upload(ctx, localPath, remoteRoot)
	if err != nil {
		metrics.CloudUploads.WithLabelValues("failed").Inc()
		logger.CloudError("upload_failed", "Mirror upload failed", err, map[string]interface{}{
			"path": localPath,
			"kind": services.RemoteKind(err).String(),
		})
		return false
	}
	metrics.CloudUploads.WithLabelValues("uploaded").Inc()
	return true
}

func (s *CloudSyncImpl) upload(ctx context.Context, localPath, remoteRoot string) (*models.CloudObject, error) {
	rel, err := s.relPath(localPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	dir := path.Join(remoteRoot, path.Dir(rel))
	folderID, _, err := s.resolveFolder(ctx, dir, true)
	if err != nil {
		return nil, err
	}

	remoteID, err := s.storage.UploadFile(ctx, folderID, path.Base(rel), localPath)
	if err != nil {
		if services.RemoteKind(err) == services.RemoteNotFound {
			// The cached folder was removed remotely; resolve it again next time.
			s.cache.Invalidate(dir)
		}
		return nil, err
	}

	obj := &models.CloudObject{
		RemoteRoot:   remoteRoot,
		RelativePath: rel,
		RemoteID:     remoteID,
		Size:         info.Size(),
		ModTime:      info.ModTime().UTC(),
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.objectRepo.Upsert(ctx, obj); err != nil {
		// The file is mirrored; a missing ledger entry only costs a re-upload.
		logger.CloudWarn("ledger_write_failed", "Could not record upload", map[string]interface{}{
			"path":  rel,
			"error": err.Error(),
		})
	}
	return obj, nil
}

// collectFiles lists the regular files under the mirror directories.
func (s *CloudSyncImpl) collectFiles() ([]string, error) {
	var files []string
	for _, dir := range s.mirrorDirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() || media.IsHidden(p) {
				return nil
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return files, nil
}

// upToDate reports whether the ledger already holds this version of the file.
func (s *CloudSyncImpl) upToDate(ctx context.Context, localPath string) bool {
	rel, err := s.relPath(localPath)
	if err != nil {
		return false
	}
	obj, err := s.objectRepo.Get(ctx, s.remoteRoot, rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return false
	}
	return obj.Size == info.Size() && obj.ModTime.Unix() == info.ModTime().Unix()
}

func (s *CloudSyncImpl) startRun(ctx context.Context, kind models.SyncRunKind, dryRun bool) (*models.SyncRun, error) {
	run := &models.SyncRun{
		Kind:      kind,
		Status:    models.SyncRunStatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}
	return run, nil
}

func (s *CloudSyncImpl) finishRun(run *models.SyncRun, passErr error) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Status = models.SyncRunStatusCompleted
	if passErr != nil {
		run.Status = models.SyncRunStatusFailed
		run.LastError = passErr.Error()
	}
	// The pass context may already be cancelled; the record should still land.
	if err := s.runRepo.Update(context.Background(), run); err != nil {
		logger.CloudError("run_update_failed", "Could not update sync run", err, map[string]interface{}{
			"run_id": run.ID.String(),
		})
	}
}

// SyncBacklog uploads every mirrored file the ledger does not know in its
// current size and mtime.
func (s *CloudSyncImpl) SyncBacklog(ctx context.Context, progress func(done, total int)) (*models.SyncRun, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	run, err := s.startRun(ctx, models.SyncRunKindBacklog, false)
	if err != nil {
		return nil, err
	}

	files, err := s.collectFiles()
	if err != nil {
		s.finishRun(run, err)
		return run, err
	}

	for i, f := range files {
		if ctx.Err() != nil {
			s.finishRun(run, ctx.Err())
			return run, ctx.Err()
		}
		switch {
		case s.upToDate(ctx, f):
			run.Skipped++
			metrics.CloudUploads.WithLabelValues("skipped").Inc()
		case s.UploadFile(ctx, f, s.remoteRoot):
			run.Uploaded++
		default:
			run.Failed++
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	s.finishRun(run, nil)
	logger.Cloud("backlog_done", "Backlog pass finished", map[string]interface{}{
		"uploaded": run.Uploaded,
		"skipped":  run.Skipped,
		"failed":   run.Failed,
	})
	return run, nil
}

// WipeFolder trashes every child of folderID. A child the caller may not
// trash is handled by type: a folder is emptied recursively and kept, a
// file is skipped. The pass never stops early.
func (s *CloudSyncImpl) WipeFolder(ctx context.Context, folderID string, dryRun bool) services.WipeReport {
	var report services.WipeReport

	children, err := s.storage.ListChildren(ctx, folderID)
	if err != nil {
		report.Failed++
		metrics.WipeItems.WithLabelValues("failed").Inc()
		logger.CloudError("wipe_list_failed", "Could not list folder", err, map[string]interface{}{
			"folder_id": folderID,
		})
		return report
	}

	for _, child := range children {
		if ctx.Err() != nil {
			return report
		}
		if dryRun {
			report.Trashed++
			report.Items = append(report.Items, child.Name)
			continue
		}

		err := s.storage.Trash(ctx, child.ID)
		switch {
		case err == nil:
			report.Trashed++
			metrics.WipeItems.WithLabelValues("trashed").Inc()
		case services.IsPermissionDenied(err) && child.IsFolder:
			report.Kept++
			metrics.WipeItems.WithLabelValues("kept").Inc()
			logger.CloudWarn("wipe_folder_kept", "No permission to trash folder, emptying it instead", map[string]interface{}{
				"name": child.Name,
				"id":   child.ID,
			})
			report.Add(s.WipeFolder(ctx, child.ID, false))
		case services.IsPermissionDenied(err):
			report.Skipped++
			metrics.WipeItems.WithLabelValues("skipped").Inc()
			logger.CloudWarn("wipe_file_skipped", "No permission to trash file", map[string]interface{}{
				"name": child.Name,
				"id":   child.ID,
			})
		default:
			report.Failed++
			metrics.WipeItems.WithLabelValues("failed").Inc()
			logger.CloudError("wipe_trash_failed", "Could not trash item", err, map[string]interface{}{
				"name": child.Name,
				"id":   child.ID,
			})
		}
	}
	return report
}

// Reconcile empties the remote root and uploads the whole mirror tree again.
// With DryRun nothing remote or in the ledger changes; the run records what
// would be trashed and uploaded.
func (s *CloudSyncImpl) Reconcile(ctx context.Context, opts services.ReconcileOptions) (*models.SyncRun, error) {
	if s.remoteRoot == "" {
		return nil, services.ErrRemoteRootRequired
	}

	s.passMu.Lock()
	defer s.passMu.Unlock()

	run, err := s.startRun(ctx, models.SyncRunKindReconcile, opts.DryRun)
	if err != nil {
		return nil, err
	}

	rootID, found, err := s.resolveFolder(ctx, s.remoteRoot, !opts.DryRun)
	if err != nil {
		s.finishRun(run, err)
		return run, fmt.Errorf("resolve remote root %q: %w", s.remoteRoot, err)
	}

	if found {
		report := s.WipeFolder(ctx, rootID, opts.DryRun)
		run.Trashed = report.Trashed
		run.Kept = report.Kept
		run.Skipped = report.Skipped
		run.Failed = report.Failed
		logger.Cloud("wipe_done", "Remote root wiped", map[string]interface{}{
			"trashed": report.Trashed,
			"kept":    report.Kept,
			"skipped": report.Skipped,
			"failed":  report.Failed,
			"dry_run": opts.DryRun,
		})
	}

	files, err := s.collectFiles()
	if err != nil {
		s.finishRun(run, err)
		return run, err
	}

	if opts.DryRun {
		run.Uploaded = len(files)
		s.finishRun(run, nil)
		return run, nil
	}

	s.cache.Reset()
	if s.remoteRoot != "" {
		// Kept folders survive the wipe; the root itself always does.
		s.cache.Put(s.remoteRoot, rootID)
	}
	if _, err := s.objectRepo.Clear(ctx, s.remoteRoot); err != nil {
		s.finishRun(run, err)
		return run, fmt.Errorf("clear ledger: %w", err)
	}

	for i, f := range files {
		if ctx.Err() != nil {
			s.finishRun(run, ctx.Err())
			return run, ctx.Err()
		}
		if s.UploadFile(ctx, f, s.remoteRoot) {
			run.Uploaded++
		} else {
			run.Failed++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(files))
		}
	}

	s.finishRun(run, nil)
	logger.Cloud("reconcile_done", "Reconciliation finished", map[string]interface{}{
		"uploaded": run.Uploaded,
		"failed":   run.Failed,
	})
	return run, nil
}
