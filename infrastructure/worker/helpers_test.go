package worker

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/database"
	"faceforward/pkg/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "faceforward.db")

	db, err := database.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.EventRoot = t.TempDir()
	cfg.Worker.Concurrency = 2
	cfg.Worker.BatchSize = 10
	cfg.Worker.MaxRetries = 2
	cfg.Worker.BaseRetryDelay = time.Millisecond
	cfg.Worker.ThumbnailSize = 16
	cfg.Worker.PollInterval = 10 * time.Millisecond
	cfg.Intake.StableWindow = 0
	cfg.Intake.HashRetryDelay = time.Millisecond
	cfg.Recovery.Grace = 0
	require.NoError(t, cfg.Paths.Ensure())
	return cfg
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// scriptedPipeline detects from a script and delegates Identify to a real pipeline.
type scriptedPipeline struct {
	mu          sync.Mutex
	identify    services.FacePipeline
	faces       []services.DetectedFace
	detectErrs  []error // consumed one per Detect call
	identifyErr []error // consumed one per Identify call
	detects     int
	identifies  int
}

func (p *scriptedPipeline) Detect(ctx context.Context, img []byte, mimeType string) ([]services.DetectedFace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detects++
	if len(p.detectErrs) > 0 {
		err := p.detectErrs[0]
		p.detectErrs = p.detectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.faces, nil
}

func (p *scriptedPipeline) Identify(ctx context.Context, src repositories.EmbeddingSource, embedding []float32, confidence float64) (uint, error) {
	p.mu.Lock()
	p.identifies++
	var err error
	if len(p.identifyErr) > 0 {
		err = p.identifyErr[0]
		p.identifyErr = p.identifyErr[1:]
	}
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.identify.Identify(ctx, src, embedding, confidence)
}

func (p *scriptedPipeline) Forget(ctx context.Context, src repositories.EmbeddingSource) error {
	return p.identify.Forget(ctx, src)
}

func (p *scriptedPipeline) ForgetStale(ctx context.Context, src repositories.EmbeddingSource) error {
	return p.identify.ForgetStale(ctx, src)
}

func (p *scriptedPipeline) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedPipeline) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detects, p.identifies
}

type fakeCloudSync struct {
	mu     sync.Mutex
	passes int
	err    error
}

func (f *fakeCloudSync) UploadFile(ctx context.Context, localPath, remoteRoot string) bool { return true }

func (f *fakeCloudSync) SyncBacklog(ctx context.Context, progress func(done, total int)) (*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncRun{Kind: models.SyncRunKindBacklog, Status: models.SyncRunStatusCompleted, Uploaded: f.passes}, nil
}

func (f *fakeCloudSync) WipeFolder(ctx context.Context, folderID string, dryRun bool) services.WipeReport {
	return services.WipeReport{}
}

func (f *fakeCloudSync) Reconcile(ctx context.Context, opts services.ReconcileOptions) (*models.SyncRun, error) {
	return nil, nil
}

func (f *fakeCloudSync) RemoteRoot() string { return "Wedding" }

func (f *fakeCloudSync) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
