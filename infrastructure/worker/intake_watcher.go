package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/infrastructure/media"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

// maxNameAttempts bounds the file name race with other watchers.
const maxNameAttempts = 5

type candidate struct {
	size  int64
	mtime time.Time
	since time.Time
}

type seenFile struct {
	size  int64
	mtime time.Time
}

// ScanResult counts what one pass over the intake directory did.
type ScanResult struct {
	Seen       int `json:"seen"`
	Pending    int `json:"pending"` // not yet stable
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func (r *ScanResult) add(o ScanResult) {
	r.Seen += o.Seen
	r.Pending += o.Pending
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Failed += o.Failed
}

// IntakeWatcher turns stable image files in the intake directory into
// pending photos. It never changes a photo after inserting it.
type IntakeWatcher struct {
	photoRepo repositories.PhotoRepository
	dir       string
	cfg       config.IntakeConfig
	onInsert  func()
	now       func() time.Time

	scanMu     sync.Mutex
	candidates map[string]candidate
	done       map[string]seenFile

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex

	inserted   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

func NewIntakeWatcher(photoRepo repositories.PhotoRepository, cfg *config.Config) *IntakeWatcher {
	return &IntakeWatcher{
		photoRepo:  photoRepo,
		dir:        cfg.Paths.IntakeDir(),
		cfg:        cfg.Intake,
		now:        time.Now,
		candidates: make(map[string]candidate),
		done:       make(map[string]seenFile),
	}
}

// OnInsert registers a callback run after each new pending photo.
func (w *IntakeWatcher) OnInsert(fn func()) {
	w.onInsert = fn
}

func (w *IntakeWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}

	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run(fsw)

	logger.Intake("watcher_started", "Intake watcher started", map[string]interface{}{
		"dir":           w.dir,
		"stable_window": w.cfg.StableWindow.String(),
	})
	return nil
}

func (w *IntakeWatcher) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	logger.Intake("watcher_stopped", "Intake watcher stopped", nil)
}

func (w *IntakeWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

func (w *IntakeWatcher) run(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fsw.Close()

	rescan := time.NewTicker(w.cfg.RescanInterval)
	defer rescan.Stop()

	// Fires while candidates wait out the stable window.
	settle := time.NewTimer(w.settleDelay())
	defer settle.Stop()

	w.scan(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.observe(ev.Name)
				settle.Reset(w.settleDelay())
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// Dropped events are caught by the next rescan.
			logger.IntakeError("watch_error", "Filesystem watcher error", err, nil)
		case <-settle.C:
			w.scan(w.ctx)
			if w.pendingCount() > 0 {
				settle.Reset(w.settleDelay())
			}
		case <-rescan.C:
			w.scan(w.ctx)
			if w.pendingCount() > 0 {
				settle.Reset(w.settleDelay())
			}
		}
	}
}

func (w *IntakeWatcher) settleDelay() time.Duration {
	if w.cfg.StableWindow <= 0 {
		return 100 * time.Millisecond
	}
	return w.cfg.StableWindow + 100*time.Millisecond
}

func (w *IntakeWatcher) pendingCount() int {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()
	return len(w.candidates)
}

// observe records a sighting of path without ingesting it.
func (w *IntakeWatcher) observe(path string) {
	name := filepath.Base(path)
	if media.IsHidden(name) || !media.IsSupportedFormat(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.scanMu.Lock()
	defer w.scanMu.Unlock()
	w.track(path, info)
}

// track must be called with scanMu held. It reports whether path has kept
// the same size and mtime for the whole stable window.
func (w *IntakeWatcher) track(path string, info os.FileInfo) bool {
	if d, ok := w.done[path]; ok && d.size == info.Size() && d.mtime.Equal(info.ModTime()) {
		return false
	}

	now := w.now()
	c, ok := w.candidates[path]
	if !ok || c.size != info.Size() || !c.mtime.Equal(info.ModTime()) {
		w.candidates[path] = candidate{size: info.Size(), mtime: info.ModTime(), since: now}
		return false
	}
	return now.Sub(c.since) >= w.cfg.StableWindow
}

// ScanOnce runs a single pass over the intake directory.
func (w *IntakeWatcher) ScanOnce(ctx context.Context) (ScanResult, error) {
	if _, err := os.Stat(w.dir); err != nil {
		return ScanResult{}, err
	}
	return w.scan(ctx), nil
}

func (w *IntakeWatcher) scan(ctx context.Context) ScanResult {
	var result ScanResult

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.IntakeError("scan_failed", "Could not read intake directory", err, map[string]interface{}{"dir": w.dir})
		return result
	}

	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	present := make(map[string]bool, len(entries))
	var ready []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || media.IsHidden(name) {
			continue
		}
		if !media.IsSupportedFormat(name) {
			continue
		}
		path := filepath.Join(w.dir, name)
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		present[path] = true
		result.Seen++
		if w.track(path, info) {
			ready = append(ready, path)
		}
	}

	// Forget files that left the directory.
	for path := range w.candidates {
		if !present[path] {
			delete(w.candidates, path)
		}
	}
	for path := range w.done {
		if !present[path] {
			delete(w.done, path)
		}
	}

	sort.Strings(ready)
	for _, path := range ready {
		if ctx.Err() != nil {
			break
		}
		c := w.candidates[path]
		delete(w.candidates, path)

		r := w.ingest(ctx, path, c)
		result.add(r)
		if r.Failed == 0 {
			w.done[path] = seenFile{size: c.size, mtime: c.mtime}
		}
	}
	result.Pending = len(w.candidates)

	w.inserted.Add(int64(result.Inserted))
	w.duplicates.Add(int64(result.Duplicates))
	w.failed.Add(int64(result.Failed))
	return result
}

func (w *IntakeWatcher) ingest(ctx context.Context, path string, c candidate) ScanResult {
	name := filepath.Base(path)

	hash, size, err := media.HashFile(ctx, path, w.cfg.HashAttempts, w.cfg.HashRetryDelay)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ScanResult{}
		}
		metrics.IntakeFiles.WithLabelValues("error").Inc()
		logger.IntakeError("hash_failed", "Could not hash intake file", err, map[string]interface{}{"path": path})
		return ScanResult{Failed: 1}
	}

	existing, err := w.photoRepo.GetByContentHash(ctx, hash)
	if err == nil {
		metrics.IntakeFiles.WithLabelValues("duplicate").Inc()
		logger.Debug(logger.CategoryIntake, "duplicate_skipped", "Content already known", map[string]interface{}{
			"path":     path,
			"photo_id": existing.ID,
		})
		return ScanResult{Duplicates: 1}
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		metrics.IntakeFiles.WithLabelValues("error").Inc()
		logger.IntakeError("lookup_failed", "Hash lookup failed", err, map[string]interface{}{"path": path})
		return ScanResult{Failed: 1}
	}

	photo := &models.Photo{
		OriginalPath: path,
		ContentHash:  hash,
		FileSize:     size,
		TakenAt:      media.ReadTakenAt(path),
		Status:       models.PhotoStatusPending,
	}

	var lastErr error
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		fileName, err := w.photoRepo.UniqueFileName(ctx, name)
		if err != nil {
			lastErr = err
			break
		}
		photo.ID = 0
		photo.FileName = fileName

		inserted, err := w.photoRepo.Create(ctx, photo)
		if errors.Is(err, repositories.ErrDuplicateFileName) {
			lastErr = err
			continue
		}
		if err != nil {
			metrics.IntakeFiles.WithLabelValues("error").Inc()
			logger.IntakeError("insert_failed", "Could not record photo", err, map[string]interface{}{"path": path})
			return ScanResult{Failed: 1}
		}
		if !inserted {
			// Another watcher recorded the same content first.
			metrics.IntakeFiles.WithLabelValues("duplicate").Inc()
			return ScanResult{Duplicates: 1}
		}

		metrics.IntakeFiles.WithLabelValues("inserted").Inc()
		logger.Intake("photo_added", "Photo queued for processing", map[string]interface{}{
			"photo_id":  photo.ID,
			"file_name": photo.FileName,
			"size":      size,
			"stable_ms": w.now().Sub(c.since).Milliseconds(),
		})
		if w.onInsert != nil {
			w.onInsert()
		}
		return ScanResult{Inserted: 1}
	}

	metrics.IntakeFiles.WithLabelValues("error").Inc()
	logger.IntakeError("name_failed", "Could not reserve a file name", lastErr, map[string]interface{}{"path": path})
	return ScanResult{Failed: 1}
}

func (w *IntakeWatcher) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"is_running": w.IsRunning(),
		"dir":        w.dir,
		"pending":    w.pendingCount(),
		"inserted":   w.inserted.Load(),
		"duplicates": w.duplicates.Load(),
		"failed":     w.failed.Load(),
	}
}
