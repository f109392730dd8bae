package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/media"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

// FaceWorker claims pending photos and drives them to a terminal status.
// Several workers, in one process or many, may share a store: the claim
// is the only coordination.
type FaceWorker struct {
	photoRepo repositories.PhotoRepository
	pipeline  services.FacePipeline
	router    services.Router
	paths     config.PathsConfig
	onDone    func()

	workerID string
	slots    chan int
	wake     chan struct{}

	// Worker control
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex

	// Configuration
	pollInterval  time.Duration
	maxConcurrent int
	batchSize     int
	thumbnailSize int
	detectMaxSide int

	// Retry configuration
	maxRetries     int
	baseRetryDelay time.Duration

	// Recovery
	recoveryCeiling int
	recoveryGrace   time.Duration

	// Circuit breaker
	circuitBreaker *CircuitBreaker

	processed atomic.Int64
	failed    atomic.Int64
}

// CircuitBreaker prevents cascading failures
type CircuitBreaker struct {
	failures     int32
	threshold    int32
	resetTimeout time.Duration
	lastFailure  time.Time
	mu           sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(threshold int32, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// IsOpen returns true if circuit is open (should not proceed)
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if atomic.LoadInt32(&cb.failures) >= cb.threshold {
		// Check if reset timeout has passed
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			// Allow one request through (half-open state)
			return false
		}
		return true
	}
	return false
}

// RecordSuccess resets the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt32(&cb.failures, 0)
}

// RecordFailure increments failure count
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	atomic.AddInt32(&cb.failures, 1)
	cb.lastFailure = time.Now()
}

// GetFailures returns current failure count
func (cb *CircuitBreaker) GetFailures() int32 {
	return atomic.LoadInt32(&cb.failures)
}

// NewFaceWorker creates a new face processing worker
func NewFaceWorker(
	photoRepo repositories.PhotoRepository,
	pipeline services.FacePipeline,
	router services.Router,
	cfg *config.Config,
) *FaceWorker {
	w := &FaceWorker{
		photoRepo:       photoRepo,
		pipeline:        pipeline,
		router:          router,
		paths:           cfg.Paths,
		workerID:        uuid.New().String(),
		wake:            make(chan struct{}, 1),
		pollInterval:    cfg.Worker.PollInterval,
		maxConcurrent:   cfg.Worker.Concurrency,
		batchSize:       cfg.Worker.BatchSize,
		thumbnailSize:   cfg.Worker.ThumbnailSize,
		detectMaxSide:   cfg.Worker.DetectMaxSide,
		maxRetries:      cfg.Worker.MaxRetries,
		baseRetryDelay:  cfg.Worker.BaseRetryDelay,
		recoveryCeiling: cfg.Recovery.Ceiling,
		recoveryGrace:   cfg.Recovery.Grace,
		circuitBreaker:  NewCircuitBreaker(10, 60*time.Second), // Open after 10 failures, reset after 60s
	}

	// Each slot number is a claim identity; holding one is holding a concurrency permit.
	w.slots = make(chan int, w.maxConcurrent)
	for i := 0; i < w.maxConcurrent; i++ {
		w.slots <- i
	}
	return w
}

// OnDone registers a callback run after every completed or no_faces commit.
func (w *FaceWorker) OnDone(fn func()) {
	w.onDone = fn
}

func (w *FaceWorker) ID() string { return w.workerID }

// Wake asks the run loop to poll now instead of waiting for the next tick.
func (w *FaceWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *FaceWorker) claimID(slot int) string {
	return fmt.Sprintf("%s/%d", w.workerID, slot)
}

// Start starts the face worker
func (w *FaceWorker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	logger.Worker("worker_started", "Face worker started", map[string]interface{}{
		"worker_id":   w.workerID,
		"concurrency": w.maxConcurrent,
	})
}

// Stop stops the face worker gracefully. Photos mid-flight stay processing
// and are picked up by the next recovery sweep.
func (w *FaceWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	logger.Worker("worker_stopped", "Face worker stopped", map[string]interface{}{"worker_id": w.workerID})
}

// IsRunning returns whether the worker is running
func (w *FaceWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// run is the main worker loop
func (w *FaceWorker) run() {
	defer w.wg.Done()

	if err := w.Recover(w.ctx); err != nil {
		logger.WorkerError("recovery_failed", "Orphan recovery failed", err, nil)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.ProcessBatch(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drain()
		case <-w.wake:
			w.drain()
		}
	}
}

// drain keeps polling while full batches come back.
func (w *FaceWorker) drain() {
	for w.ProcessBatch(w.ctx) == w.batchSize && w.ctx.Err() == nil {
	}
}

// Recover returns orphaned processing rows to pending, or marks them stuck
// once they have been reset too often.
func (w *FaceWorker) Recover(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.recoveryGrace)
	reset, stuck, err := w.photoRepo.RecoverOrphans(ctx, w.recoveryCeiling, cutoff)
	if err != nil {
		return err
	}
	metrics.RecoveredPhotos.WithLabelValues("reset").Add(float64(reset))
	metrics.RecoveredPhotos.WithLabelValues("stuck").Add(float64(stuck))
	if reset > 0 || stuck > 0 {
		logger.WorkerWarn("orphans_recovered", "Recovered orphaned photos", map[string]interface{}{
			"reset":   reset,
			"stuck":   stuck,
			"ceiling": w.recoveryCeiling,
		})
	}
	return nil
}

// ProcessBatch claims and processes up to one batch of pending photos and
// returns how many candidates it saw.
func (w *FaceWorker) ProcessBatch(ctx context.Context) int {
	// Check circuit breaker
	if w.circuitBreaker.IsOpen() {
		logger.WorkerWarn("circuit_open", "Circuit breaker open, skipping batch", map[string]interface{}{
			"failures": w.circuitBreaker.GetFailures(),
		})
		return 0
	}

	// Check if face API is available
	if !w.pipeline.IsAvailable(ctx) {
		w.circuitBreaker.RecordFailure()
		logger.WorkerWarn("detector_unavailable", "Face API not available", nil)
		return 0
	}

	ids, err := w.photoRepo.ListIDsByStatus(ctx, models.PhotoStatusPending, w.batchSize)
	if err != nil {
		logger.WorkerError("fetch_pending_failed", "Error fetching pending photos", err, nil)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	var batchWg sync.WaitGroup
	for _, id := range ids {
		var slot int
		select {
		case slot = <-w.slots: // Acquire slot
		case <-ctx.Done():
			batchWg.Wait()
			return len(ids)
		}
		// A free slot and a cancelled context can be ready together.
		if ctx.Err() != nil {
			w.slots <- slot
			break
		}

		batchWg.Add(1)
		go func(id uint, slot int) {
			defer batchWg.Done()
			defer func() { w.slots <- slot }() // Release slot

			w.claimAndProcess(ctx, id, w.claimID(slot))
		}(id, slot)
	}
	batchWg.Wait()

	return len(ids)
}

func (w *FaceWorker) claimAndProcess(ctx context.Context, id uint, claimID string) {
	won, err := w.photoRepo.Claim(ctx, id, claimID)
	if err != nil {
		logger.WorkerError("claim_failed", "Claim failed", err, map[string]interface{}{"photo_id": id})
		return
	}
	if !won {
		metrics.Claims.WithLabelValues("lost").Inc()
		return
	}
	metrics.Claims.WithLabelValues("won").Inc()

	photo, err := w.photoRepo.GetByID(ctx, id)
	if err != nil {
		logger.WorkerError("load_failed", "Claimed photo could not be loaded", err, map[string]interface{}{"photo_id": id})
		return
	}

	w.processPhotoWithRetry(ctx, photo, claimID)
}

// job carries the work done so far, so a retry resumes where the last
// attempt failed instead of identifying the same faces twice.
type job struct {
	photo      *models.Photo
	src        repositories.EmbeddingSource
	img        *media.Image
	detected   []services.DetectedFace
	faces      []*models.Face
	identified bool
	staleGone  bool

	processedPath string
	thumbnailPath string
}

// processPhotoWithRetry processes a photo with retry logic
func (w *FaceWorker) processPhotoWithRetry(ctx context.Context, photo *models.Photo, claimID string) {
	start := time.Now()
	j := &job{
		photo: photo,
		src:   repositories.EmbeddingSource{PhotoID: photo.ID, Token: uuid.New().String()},
	}

	var lastErr error
	attempt := 0
	for ; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := w.baseRetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		result, err := w.processPhoto(ctx, j)
		if err == nil {
			result.Attempts = attempt + 1
			w.finish(ctx, j, claimID, result)
			w.circuitBreaker.RecordSuccess()
			metrics.ProcessingDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
			return
		}
		if ctx.Err() != nil {
			// Shutdown: leave the row processing for the recovery sweep.
			return
		}

		lastErr = err
		logger.WorkerWarn("attempt_failed", "Photo processing failed", map[string]interface{}{
			"photo_id": photo.ID,
			"attempt":  attempt + 1,
			"error":    err.Error(),
		})

		// Check if error is retryable
		if !services.IsTransient(err) {
			attempt++
			break
		}
	}
	if attempt > w.maxRetries+1 {
		attempt = w.maxRetries + 1
	}

	if services.IsTransient(lastErr) {
		w.circuitBreaker.RecordFailure()
	}
	w.finish(ctx, j, claimID, repositories.PhotoResult{
		Status:      models.PhotoStatusError,
		ErrorDetail: lastErr.Error(),
		Attempts:    attempt,
	})
}

func (w *FaceWorker) finish(ctx context.Context, j *job, claimID string, result repositories.PhotoResult) {
	photo := j.photo
	if result.Status != models.PhotoStatusCompleted {
		w.forget(ctx, j)
	}

	err := w.photoRepo.Finish(ctx, photo.ID, claimID, result)
	switch {
	case errors.Is(err, repositories.ErrClaimLost):
		if result.Status == models.PhotoStatusCompleted {
			w.forget(ctx, j)
		}
		logger.WorkerWarn("claim_lost", "Photo was reclaimed before completion, result discarded", map[string]interface{}{
			"photo_id": photo.ID,
			"claim_id": claimID,
		})
		return
	case err != nil:
		logger.WorkerError("finish_failed", "Could not commit photo result", err, map[string]interface{}{"photo_id": photo.ID})
		return
	}

	metrics.PhotoOutcomes.WithLabelValues(string(result.Status)).Inc()
	data := map[string]interface{}{
		"photo_id":   photo.ID,
		"file_name":  photo.FileName,
		"status":     result.Status,
		"face_count": len(result.Faces),
		"attempts":   result.Attempts,
	}
	if result.Status == models.PhotoStatusError {
		w.failed.Add(1)
		logger.WorkerError("photo_failed", "Photo processing failed", errors.New(result.ErrorDetail), data)
		return
	}

	w.processed.Add(1)
	logger.Worker("photo_done", "Photo processed", data)
	if w.onDone != nil {
		w.onDone()
	}
}

// forget takes back the persons a job touched when its result will not be
// committed as completed. A failure here is cleaned up by the next run.
func (w *FaceWorker) forget(ctx context.Context, j *job) {
	if !j.identified && len(j.faces) == 0 {
		return
	}
	if err := w.pipeline.Forget(ctx, j.src); err != nil {
		logger.WorkerWarn("forget_failed", "Identity writes of a failed run were not taken back", map[string]interface{}{
			"photo_id": j.photo.ID,
			"error":    err.Error(),
		})
	}
}

// processPhoto runs the remaining steps of a job.
func (w *FaceWorker) processPhoto(ctx context.Context, j *job) (repositories.PhotoResult, error) {
	photo := j.photo

	if !j.staleGone {
		if err := w.pipeline.ForgetStale(ctx, j.src); err != nil {
			return repositories.PhotoResult{}, err
		}
		j.staleGone = true
	}

	if j.img == nil {
		stageStart := time.Now()
		img, err := media.Load(photo.OriginalPath)
		if err != nil {
			return repositories.PhotoResult{}, err
		}
		j.img = img
		metrics.ProcessingDuration.WithLabelValues("decode").Observe(time.Since(stageStart).Seconds())
	}

	if j.detected == nil {
		stageStart := time.Now()
		data, err := j.img.EncodeForDetection(w.detectMaxSide)
		if err != nil {
			return repositories.PhotoResult{}, services.Unprocessable("encode %s: %v", photo.FileName, err)
		}
		detected, err := w.pipeline.Detect(ctx, data, "image/jpeg")
		if err != nil {
			return repositories.PhotoResult{}, err
		}
		j.detected = detected
		metrics.ProcessingDuration.WithLabelValues("detect").Observe(time.Since(stageStart).Seconds())
	}

	if len(j.detected) == 0 {
		dst := filepath.Join(w.paths.NoFacesDir(), photo.FileName)
		if err := media.CopyFile(photo.OriginalPath, dst); err != nil {
			return repositories.PhotoResult{}, services.Transient("copy to no faces", err)
		}
		return repositories.PhotoResult{Status: models.PhotoStatusNoFaces}, nil
	}

	if !j.identified {
		stageStart := time.Now()
		// Faces identified in an earlier attempt keep their person.
		for i := len(j.faces); i < len(j.detected); i++ {
			d := j.detected[i]
			personID, err := w.pipeline.Identify(ctx, j.src, d.Embedding, d.Confidence)
			if err != nil {
				return repositories.PhotoResult{}, err
			}
			face := &models.Face{
				Embedding:  pgvector.NewVector(d.Embedding),
				BboxX:      d.BboxX,
				BboxY:      d.BboxY,
				BboxWidth:  d.BboxWidth,
				BboxHeight: d.BboxHeight,
				Confidence: d.Confidence,
			}
			if personID != 0 {
				pid := personID
				face.PersonID = &pid
			}
			j.faces = append(j.faces, face)
		}
		j.identified = true
		metrics.ProcessingDuration.WithLabelValues("identify").Observe(time.Since(stageStart).Seconds())
	}

	if j.processedPath == "" {
		ext := strings.ToLower(filepath.Ext(photo.OriginalPath))
		dst := filepath.Join(w.paths.ProcessedDir(), fmt.Sprintf("%06d%s", photo.ID, ext))
		if err := media.CopyFile(photo.OriginalPath, dst); err != nil {
			return repositories.PhotoResult{}, services.Transient("write processed copy", err)
		}
		j.processedPath = dst
	}

	if j.thumbnailPath == "" {
		dst := filepath.Join(w.paths.ThumbnailsDir(), fmt.Sprintf("%06d.jpg", photo.ID))
		if err := j.img.WriteThumbnail(dst, w.thumbnailSize); err != nil {
			return repositories.PhotoResult{}, services.Transient("write thumbnail", err)
		}
		j.thumbnailPath = dst
	}

	stageStart := time.Now()
	personIDs := make([]uint, 0, len(j.faces))
	for _, f := range j.faces {
		if f.PersonID != nil {
			personIDs = append(personIDs, *f.PersonID)
		}
	}
	if _, err := w.router.Route(ctx, photo.FileName, personIDs, j.processedPath); err != nil {
		return repositories.PhotoResult{}, err
	}
	metrics.ProcessingDuration.WithLabelValues("route").Observe(time.Since(stageStart).Seconds())

	return repositories.PhotoResult{
		Status:        models.PhotoStatusCompleted,
		ProcessedPath: j.processedPath,
		ThumbnailPath: j.thumbnailPath,
		Faces:         j.faces,
	}, nil
}

// GetStats returns worker statistics
func (w *FaceWorker) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"workerId":        w.workerID,
		"isRunning":       w.IsRunning(),
		"maxConcurrent":   w.maxConcurrent,
		"batchSize":       w.batchSize,
		"processed":       w.processed.Load(),
		"failed":          w.failed.Load(),
		"circuitBreaker":  !w.circuitBreaker.IsOpen(),
		"circuitFailures": w.circuitBreaker.GetFailures(),
	}
}
