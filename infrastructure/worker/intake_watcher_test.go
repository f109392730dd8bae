package worker

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/infrastructure/database"
	"faceforward/pkg/config"
)

func newTestWatcher(t *testing.T) (*IntakeWatcher, repositories.PhotoRepository, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	repo := database.NewPhotoRepository(newTestDB(t))
	return NewIntakeWatcher(repo, cfg), repo, cfg
}

func TestIntakeWatcher_FirstObservationIsNeverReady(t *testing.T) {
	w, repo, cfg := newTestWatcher(t)
	writePNG(t, filepath.Join(cfg.Paths.IntakeDir(), "a.png"), 8, 8, color.White)

	ctx := context.Background()
	res, err := w.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seen)
	assert.Equal(t, 1, res.Pending)
	assert.Zero(t, res.Inserted)

	res, err = w.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Pending)

	n, err := repo.Count(ctx, repositories.PhotoFilter{Statuses: []models.PhotoStatus{models.PhotoStatusPending}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Already ingested and unchanged.
	res, err = w.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Duplicates)
}

func TestIntakeWatcher_WaitsForStableWindow(t *testing.T) {
	w, _, cfg := newTestWatcher(t)
	w.cfg.StableWindow = time.Minute
	clock := time.Now()
	w.now = func() time.Time { return clock }

	path := filepath.Join(cfg.Paths.IntakeDir(), "growing.png")
	writePNG(t, path, 8, 8, color.White)

	ctx := context.Background()
	_, _ = w.ScanOnce(ctx)
	clock = clock.Add(30 * time.Second)
	res, _ := w.ScanOnce(ctx)
	assert.Zero(t, res.Inserted, "still inside the window")

	// A write restarts the window.
	writePNG(t, path, 16, 16, color.Black)
	clock = clock.Add(45 * time.Second)
	res, _ = w.ScanOnce(ctx)
	assert.Zero(t, res.Inserted)

	clock = clock.Add(61 * time.Second)
	res, _ = w.ScanOnce(ctx)
	assert.Equal(t, 1, res.Inserted)
}

func TestIntakeWatcher_SkipsDuplicatesAndUnsupported(t *testing.T) {
	w, repo, cfg := newTestWatcher(t)
	dir := cfg.Paths.IntakeDir()
	writePNG(t, filepath.Join(dir, "one.png"), 8, 8, color.White)
	writePNG(t, filepath.Join(dir, "copy-of-one.png"), 8, 8, color.White)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.png"), []byte("hi"), 0644))

	ctx := context.Background()
	_, _ = w.ScanOnce(ctx)
	res, err := w.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seen)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)

	total, err := repo.Count(ctx, repositories.PhotoFilter{PathContains: dir})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestIntakeWatcher_SuffixesTakenNames(t *testing.T) {
	w, repo, cfg := newTestWatcher(t)
	ctx := context.Background()

	sub := filepath.Join(cfg.Paths.IntakeDir(), "..", "Other")
	writePNG(t, filepath.Join(sub, "dsc.png"), 8, 8, color.Black)
	ok, err := repo.Create(ctx, &models.Photo{
		OriginalPath: filepath.Join(sub, "dsc.png"),
		FileName:     "dsc.png",
		ContentHash:  "other-camera",
		Status:       models.PhotoStatusPending,
	})
	require.NoError(t, err)
	require.True(t, ok)

	writePNG(t, filepath.Join(cfg.Paths.IntakeDir(), "dsc.png"), 8, 8, color.White)
	_, _ = w.ScanOnce(ctx)
	res, err := w.ScanOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	photos, _, err := repo.List(ctx, repositories.PhotoFilter{PathContains: cfg.Paths.IntakeDir()}, 0, 10)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "dsc-2.png", photos[0].FileName)
}

func TestIntakeWatcher_StartPicksUpNewFiles(t *testing.T) {
	w, repo, cfg := newTestWatcher(t)
	w.cfg.RescanInterval = 20 * time.Millisecond

	inserted := make(chan struct{}, 1)
	w.OnInsert(func() {
		select {
		case inserted <- struct{}{}:
		default:
		}
	})

	require.NoError(t, w.Start())
	defer w.Stop()
	assert.True(t, w.IsRunning())

	writePNG(t, filepath.Join(cfg.Paths.IntakeDir(), "live.png"), 8, 8, color.White)

	select {
	case <-inserted:
	case <-time.After(5 * time.Second):
		t.Fatal("photo was not ingested")
	}

	n, err := repo.Count(context.Background(), repositories.PhotoFilter{PathContains: "live.png"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
