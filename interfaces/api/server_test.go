package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceforward/application/serviceimpl"
	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/infrastructure/database"
	"faceforward/infrastructure/faceapi"
	"faceforward/interfaces/api/handlers"
	"faceforward/pkg/config"
	"faceforward/pkg/scheduler"
)

const testToken = "s3cret"

type fakeFaceAPI struct{ err error }

func (f fakeFaceAPI) Health(ctx context.Context) (*faceapi.HealthResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &faceapi.HealthResponse{Status: "ok", Model: "buffalo_l", Version: "1"}, nil
}

type fixture struct {
	app       *fiber.App
	photoRepo repositories.PhotoRepository
	triggered int
}

func newFixture(t *testing.T, adminToken string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.EventRoot = t.TempDir()
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Server.AdminToken = adminToken
	cfg.Server.RateLimit.Enabled = false
	require.NoError(t, cfg.Paths.Ensure())

	db, err := database.NewDatabase(cfg.Database)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	photoRepo := database.NewPhotoRepository(db)
	personRepo := database.NewPersonRepository(db)
	faceRepo := database.NewFaceRepository(db)
	router := serviceimpl.NewRouter(photoRepo, cfg.Paths)

	f := &fixture{photoRepo: photoRepo}
	h := handlers.NewHandlers(
		&handlers.Services{
			Maintenance: serviceimpl.NewMaintenanceService(photoRepo, faceRepo, personRepo,
				database.NewCloudObjectRepository(db), router, cfg.Paths, ""),
			Router: router,
		},
		&handlers.Repositories{
			PhotoRepository:   photoRepo,
			PersonRepository:  personRepo,
			FaceRepository:    faceRepo,
			SyncRunRepository: database.NewSyncRunRepository(db),
		},
		&handlers.Runtime{
			DB:           db,
			FaceAPI:      fakeFaceAPI{},
			Scheduler:    scheduler.NewScheduler(),
			Workers:      map[string]handlers.StatsProvider{},
			TriggerCloud: func() { f.triggered++ },
			IntakeDir:    cfg.Paths.IntakeDir(),
		},
	)
	f.app = NewApp(h, cfg)
	return f
}

func (f *fixture) seed(t *testing.T, name string, status models.PhotoStatus) uint {
	t.Helper()
	ctx := context.Background()
	photo := &models.Photo{
		OriginalPath: "/intake/" + name,
		FileName:     name,
		ContentHash:  name,
		Status:       models.PhotoStatusPending,
	}
	ok, err := f.photoRepo.Create(ctx, photo)
	require.NoError(t, err)
	require.True(t, ok)

	if status == models.PhotoStatusPending {
		return photo.ID
	}

	won, err := f.photoRepo.Claim(ctx, photo.ID, "test/0")
	require.NoError(t, err)
	require.True(t, won)

	if status == models.PhotoStatusStuck {
		// Only recovery produces stuck; a zero ceiling makes the first sweep do it.
		_, stuck, err := f.photoRepo.RecoverOrphans(ctx, 0, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, int64(1), stuck)
		return photo.ID
	}

	require.NoError(t, f.photoRepo.Finish(ctx, photo.ID, "test/0", repositories.PhotoResult{
		Status:      status,
		ErrorDetail: "boom",
		Attempts:    1,
	}))
	return photo.ID
}

func (f *fixture) do(t *testing.T, method, path, body string, token string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, testToken)

	code, _ := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/health/detailed", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthDegradedByStuckPhotos(t *testing.T) {
	f := newFixture(t, testToken)
	f.seed(t, "stuck.jpg", models.PhotoStatusStuck)

	code, body := f.do(t, http.MethodGet, "/health/detailed", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestAdminTokenRequired(t *testing.T) {
	f := newFixture(t, testToken)

	code, _ := f.do(t, http.MethodGet, "/api/v1/admin/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/stats", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/stats", "", testToken)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/stats?token="+testToken, "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	f := newFixture(t, "")
	code, _ := f.do(t, http.MethodGet, "/api/v1/admin/stats", "", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestListPhotosByStatus(t *testing.T) {
	f := newFixture(t, testToken)
	f.seed(t, "a.jpg", models.PhotoStatusError)
	f.seed(t, "b.jpg", models.PhotoStatusPending)
	f.seed(t, "c.jpg", models.PhotoStatusError)

	code, body := f.do(t, http.MethodGet, "/api/v1/admin/photos?status=error", "", testToken)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/photos?status=bogus", "", testToken)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResetPhotos(t *testing.T) {
	f := newFixture(t, testToken)
	id := f.seed(t, "a.jpg", models.PhotoStatusError)
	f.seed(t, "b.jpg", models.PhotoStatusCompleted)

	code, _ := f.do(t, http.MethodPost, "/api/v1/admin/photos/reset", `{}`, testToken)
	assert.Equal(t, http.StatusBadRequest, code, "an empty filter is refused")

	code, _ = f.do(t, http.MethodPost, "/api/v1/admin/photos/reset", `{"statuses":["nope"]}`, testToken)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/v1/admin/photos/reset", `{"statuses":["error"],"dry_run":true}`, testToken)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["count"])
	photo, err := f.photoRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatusError, photo.Status, "dry run changes nothing")

	code, _ = f.do(t, http.MethodPost, "/api/v1/admin/photos/reset", `{"statuses":["error"]}`, testToken)
	require.Equal(t, http.StatusOK, code)
	photo, err = f.photoRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatusPending, photo.Status)
}

func TestPhotoNotFound(t *testing.T) {
	f := newFixture(t, testToken)

	code, _ := f.do(t, http.MethodGet, "/api/v1/admin/photos/42", "", testToken)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/photos/42/verify", "", testToken)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/photos/abc", "", testToken)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPurgePhoto(t *testing.T) {
	f := newFixture(t, testToken)
	id := f.seed(t, "gone.jpg", models.PhotoStatusError)

	code, _ := f.do(t, http.MethodDelete, "/api/v1/admin/photos/"+itoa(id), "", testToken)
	require.Equal(t, http.StatusOK, code)

	_, err := f.photoRepo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSyncWithoutBackend(t *testing.T) {
	f := newFixture(t, testToken)

	code, _ := f.do(t, http.MethodPost, "/api/v1/admin/sync/backlog", "", testToken)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/admin/sync/reconcile", `{"dry_run":true}`, testToken)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Zero(t, f.triggered)

	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/sync/runs/latest", "", testToken)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testToken)
	f.do(t, http.MethodGet, "/health", "", "")

	code, body := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["raw"], "faceforward_http_request_duration_seconds")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func TestAdminLogs_ValidatesFilters(t *testing.T) {
	f := newFixture(t, testToken)

	status, _ := f.do(t, http.MethodGet, "/api/v1/admin/logs?level=verbose", "", testToken)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/api/v1/admin/logs?category=news", "", testToken)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/api/v1/admin/logs/stats?date=yesterday", "", testToken)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodGet, "/api/v1/admin/logs?level=warn&category=cloud", "", testToken)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}
