package worker

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"faceforward/application/serviceimpl"
	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/database"
	"faceforward/pkg/config"
)

type workerFixture struct {
	cfg        *config.Config
	db         *gorm.DB
	photoRepo  repositories.PhotoRepository
	personRepo repositories.PersonRepository
	faceRepo  repositories.FaceRepository
	pipeline  *scriptedPipeline
	worker    *FaceWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	cfg := testConfig(t)
	db := newTestDB(t)
	photoRepo := database.NewPhotoRepository(db)
	personRepo := database.NewPersonRepository(db)

	pipeline := &scriptedPipeline{
		identify: serviceimpl.NewFacePipeline(nil, personRepo, cfg.Identify),
	}
	router := serviceimpl.NewRouter(photoRepo, cfg.Paths)

	return &workerFixture{
		cfg:        cfg,
		db:         db,
		photoRepo:  photoRepo,
		personRepo: personRepo,
		faceRepo:   database.NewFaceRepository(db),
		pipeline:   pipeline,
		worker:     NewFaceWorker(photoRepo, pipeline, router, cfg),
	}
}

func (f *workerFixture) addPhoto(t *testing.T, name string, valid bool) *models.Photo {
	t.Helper()
	path := filepath.Join(f.cfg.Paths.IntakeDir(), name)
	if valid {
		writePNG(t, path, 40, 20, color.RGBA{R: 200, A: 255})
	} else {
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))
	}
	photo := &models.Photo{
		OriginalPath: path,
		FileName:     name,
		ContentHash:  name,
		Status:       models.PhotoStatusPending,
	}
	ok, err := f.photoRepo.Create(context.Background(), photo)
	require.NoError(t, err)
	require.True(t, ok)
	return photo
}

func (f *workerFixture) get(t *testing.T, id uint) *models.Photo {
	t.Helper()
	photo, err := f.photoRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return photo
}

func twoFaces() []services.DetectedFace {
	return []services.DetectedFace{
		{Embedding: []float32{1, 0, 0}, Confidence: 0.9, BboxWidth: 0.2, BboxHeight: 0.2},
		{Embedding: []float32{0, 1, 0}, Confidence: 0.9, BboxX: 0.5, BboxWidth: 0.2, BboxHeight: 0.2},
	}
}

func TestFaceWorker_CompletesAndRoutes(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.faces = twoFaces()
	photo := f.addPhoto(t, "party.png", true)

	var done atomic.Int32
	f.worker.OnDone(func() { done.Add(1) })

	assert.Equal(t, 1, f.worker.ProcessBatch(context.Background()))

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusCompleted, got.Status)
	assert.Equal(t, 2, got.FaceCount)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.ClaimedBy)
	assert.FileExists(t, filepath.Join(f.cfg.Paths.ProcessedDir(), "000001.png"))
	assert.FileExists(t, got.ThumbnailPath)

	personIDs, err := f.photoRepo.GetPersonIDs(context.Background(), photo.ID)
	require.NoError(t, err)
	require.Len(t, personIDs, 2)
	for _, id := range personIDs {
		assert.FileExists(t, filepath.Join(f.cfg.Paths.PeopleDir(), formatID(id), "party.png"))
	}
	assert.FileExists(t, photo.OriginalPath, "originals are never moved")
	assert.Equal(t, int32(1), done.Load())
}

func TestFaceWorker_NoFaces(t *testing.T) {
	f := newWorkerFixture(t)
	photo := f.addPhoto(t, "sky.png", true)

	f.worker.ProcessBatch(context.Background())

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusNoFaces, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.FileExists(t, filepath.Join(f.cfg.Paths.NoFacesDir(), "sky.png"))
	assert.NoFileExists(t, filepath.Join(f.cfg.Paths.NoMatchDir(), "sky.png"))
	_, identifies := f.pipeline.counts()
	assert.Zero(t, identifies)
}

func TestFaceWorker_UnprocessableFailsImmediately(t *testing.T) {
	f := newWorkerFixture(t)
	photo := f.addPhoto(t, "broken.jpg", false)

	f.worker.ProcessBatch(context.Background())

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusError, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotEmpty(t, got.ErrorDetail)
	detects, _ := f.pipeline.counts()
	assert.Zero(t, detects, "decode failure never reaches the detector")
}

func TestFaceWorker_RetriesTransient(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.faces = twoFaces()
	f.pipeline.detectErrs = []error{services.Transient("detect", errors.New("503"))}
	photo := f.addPhoto(t, "retry.png", true)

	f.worker.ProcessBatch(context.Background())

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestFaceWorker_RetryDoesNotReidentify(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.faces = twoFaces()
	// First face resolves, second fails once.
	f.pipeline.identifyErr = []error{nil, services.Transient("identify", errors.New("db busy"))}
	photo := f.addPhoto(t, "cached.png", true)

	f.worker.ProcessBatch(context.Background())

	assert.Equal(t, models.PhotoStatusCompleted, f.get(t, photo.ID).Status)
	detects, identifies := f.pipeline.counts()
	assert.Equal(t, 1, detects)
	assert.Equal(t, 3, identifies)

	faces, err := f.faceRepo.GetByPhoto(context.Background(), photo.ID)
	require.NoError(t, err)
	assert.Len(t, faces, 2)
}

func TestFaceWorker_TransientExhausted(t *testing.T) {
	f := newWorkerFixture(t)
	boom := services.Transient("detect", errors.New("timeout"))
	f.pipeline.detectErrs = []error{boom, boom, boom, boom}
	photo := f.addPhoto(t, "flaky.png", true)

	f.worker.ProcessBatch(context.Background())

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusError, got.Status)
	assert.Equal(t, f.cfg.Worker.MaxRetries+1, got.Attempts)
	assert.Contains(t, got.ErrorDetail, "timeout")
}

func TestFaceWorker_CancelLeavesProcessing(t *testing.T) {
	f := newWorkerFixture(t)
	f.cfg.Worker.BaseRetryDelay = time.Hour
	f.worker = NewFaceWorker(f.photoRepo, f.pipeline, serviceimpl.NewRouter(f.photoRepo, f.cfg.Paths), f.cfg)
	f.pipeline.detectErrs = []error{services.Transient("detect", errors.New("503"))}
	photo := f.addPhoto(t, "slow.png", true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	f.worker.ProcessBatch(ctx)

	got := f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusProcessing, got.Status)
	assert.NotEmpty(t, got.ClaimedBy)

	// The next start recovers it.
	require.NoError(t, f.worker.Recover(context.Background()))
	got = f.get(t, photo.ID)
	assert.Equal(t, models.PhotoStatusPending, got.Status)
	assert.Equal(t, 1, got.ResetCount)
}

func TestFaceWorker_RecoverMarksStuck(t *testing.T) {
	f := newWorkerFixture(t)
	photo := f.addPhoto(t, "poison.png", true)
	ctx := context.Background()

	for i := 0; i < f.cfg.Recovery.Ceiling; i++ {
		won, err := f.photoRepo.Claim(ctx, photo.ID, "dead-worker/0")
		require.NoError(t, err)
		require.True(t, won)
		require.NoError(t, f.worker.Recover(ctx))
		require.Equal(t, models.PhotoStatusPending, f.get(t, photo.ID).Status)
	}

	won, err := f.photoRepo.Claim(ctx, photo.ID, "dead-worker/0")
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, f.worker.Recover(ctx))
	assert.Equal(t, models.PhotoStatusStuck, f.get(t, photo.ID).Status)
}

func TestFaceWorker_ConcurrentWorkersClaimOnce(t *testing.T) {
	f := newWorkerFixture(t)
	for i := 0; i < 6; i++ {
		f.addPhoto(t, "p"+formatID(uint(i))+".png", true)
	}
	other := NewFaceWorker(f.photoRepo, f.pipeline, serviceimpl.NewRouter(f.photoRepo, f.cfg.Paths), f.cfg)
	require.NotEqual(t, f.worker.ID(), other.ID())

	ctx := context.Background()
	doneA := make(chan struct{})
	go func() {
		f.worker.ProcessBatch(ctx)
		close(doneA)
	}()
	other.ProcessBatch(ctx)
	<-doneA

	counts, err := f.photoRepo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), counts[models.PhotoStatusNoFaces])
	detects, _ := f.pipeline.counts()
	assert.Equal(t, 6, detects, "every photo is processed exactly once")
}

// assertIdentities checks every person is backed by exactly the faces and
// references of committed photos.
func (f *workerFixture) assertIdentities(t *testing.T, wantPersons int) {
	t.Helper()
	persons, total, err := f.personRepo.List(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(wantPersons), total)

	for _, p := range persons {
		var faces, refs int64
		require.NoError(t, f.db.Model(&models.Face{}).Where("person_id = ?", p.ID).Count(&faces).Error)
		require.NoError(t, f.db.Model(&models.PersonEmbedding{}).Where("person_id = ?", p.ID).Count(&refs).Error)
		assert.NotZero(t, faces, "person %d has no face", p.ID)
		assert.Equal(t, int(refs), p.EmbeddingCount, "person %d", p.ID)
		assert.Equal(t, faces, refs, "person %d", p.ID)
	}
}

func TestFaceWorker_FailedRunLeavesNoIdentity(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.faces = twoFaces()
	photo := f.addPhoto(t, "copyfail.png", true)
	ctx := context.Background()

	// A file where the processed directory should be fails every copy.
	processed := f.cfg.Paths.ProcessedDir()
	require.NoError(t, os.RemoveAll(processed))
	require.NoError(t, os.WriteFile(processed, []byte("x"), 0644))

	f.worker.ProcessBatch(ctx)
	require.Equal(t, models.PhotoStatusError, f.get(t, photo.ID).Status)
	_, identifies := f.pipeline.counts()
	require.Equal(t, 2, identifies)
	f.assertIdentities(t, 0)

	require.NoError(t, os.Remove(processed))
	require.NoError(t, os.MkdirAll(processed, 0755))
	reset, err := f.photoRepo.Reset(ctx, repositories.PhotoFilter{IDs: []uint{photo.ID}})
	require.NoError(t, err)
	require.Equal(t, int64(1), reset)

	f.worker.ProcessBatch(ctx)
	require.Equal(t, models.PhotoStatusCompleted, f.get(t, photo.ID).Status)
	f.assertIdentities(t, 2)

	persons, _, err := f.personRepo.List(ctx, 0, 10)
	require.NoError(t, err)
	for _, p := range persons {
		assert.Equal(t, 1, p.EmbeddingCount)
	}
}

func TestFaceWorker_ReprocessDropsEarlierRunReferences(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.faces = twoFaces()
	photo := f.addPhoto(t, "crashed.png", true)
	ctx := context.Background()

	// A run that died after identifying and before committing.
	crashed := repositories.EmbeddingSource{PhotoID: photo.ID, Token: "crashed-run"}
	for _, d := range twoFaces() {
		_, err := f.pipeline.identify.Identify(ctx, crashed, d.Embedding, d.Confidence)
		require.NoError(t, err)
	}

	f.worker.ProcessBatch(ctx)
	require.Equal(t, models.PhotoStatusCompleted, f.get(t, photo.ID).Status)
	f.assertIdentities(t, 2)

	// A completed photo reset by an operator is counted once after reprocessing.
	_, err := f.photoRepo.Reset(ctx, repositories.PhotoFilter{IDs: []uint{photo.ID}})
	require.NoError(t, err)
	f.worker.ProcessBatch(ctx)
	require.Equal(t, models.PhotoStatusCompleted, f.get(t, photo.ID).Status)
	f.assertIdentities(t, 2)
}

// cancelAfterList cancels the batch context once the pending ids are read
// and counts claim attempts made afterwards.
type cancelAfterList struct {
	repositories.PhotoRepository
	cancel context.CancelFunc
	claims atomic.Int32
}

func (r *cancelAfterList) ListIDsByStatus(ctx context.Context, status models.PhotoStatus, limit int) ([]uint, error) {
	ids, err := r.PhotoRepository.ListIDsByStatus(ctx, status, limit)
	r.cancel()
	return ids, err
}

func (r *cancelAfterList) Claim(ctx context.Context, id uint, claimID string) (bool, error) {
	r.claims.Add(1)
	return r.PhotoRepository.Claim(ctx, id, claimID)
}

func TestFaceWorker_NoClaimsAfterCancel(t *testing.T) {
	f := newWorkerFixture(t)
	for i := 0; i < 4; i++ {
		f.addPhoto(t, "late"+formatID(uint(i))+".png", true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	repo := &cancelAfterList{PhotoRepository: f.photoRepo, cancel: cancel}
	worker := NewFaceWorker(repo, f.pipeline, serviceimpl.NewRouter(f.photoRepo, f.cfg.Paths), f.cfg)

	for i := 0; i < 20; i++ {
		worker.ProcessBatch(ctx)
	}

	assert.Zero(t, repo.claims.Load())
	counts, err := f.photoRepo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[models.PhotoStatusPending])
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}

func TestFaceWorker_WakeSkipsPollWait(t *testing.T) {
	f := newWorkerFixture(t)
	f.cfg.Worker.PollInterval = time.Hour
	f.worker = NewFaceWorker(f.photoRepo, f.pipeline, serviceimpl.NewRouter(f.photoRepo, f.cfg.Paths), f.cfg)

	f.worker.Start()
	t.Cleanup(f.worker.Stop)

	photo := f.addPhoto(t, "late.png", true)
	f.worker.Wake()
	f.worker.Wake() // coalesced, never blocks

	require.Eventually(t, func() bool {
		return f.get(t, photo.ID).Status == models.PhotoStatusNoFaces
	}, 5*time.Second, 10*time.Millisecond)
}
