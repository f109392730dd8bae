package serviceimpl

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/infrastructure/database"
)

type syncFixture struct {
	sync       *CloudSyncImpl
	storage    *fakeStorage
	cache      *FolderCache
	objectRepo repositories.CloudObjectRepository
	eventRoot  string
}

func newSyncFixture(t *testing.T) *syncFixture {
	db := newTestDB(t)
	storage := newFakeStorage()
	cache := NewFolderCache()
	objectRepo := database.NewCloudObjectRepository(db)
	eventRoot := t.TempDir()

	return &syncFixture{
		sync:       NewCloudSync(storage, cache, objectRepo, database.NewSyncRunRepository(db), eventRoot, "Wedding", []string{"People", "NoMatch"}),
		storage:    storage,
		cache:      cache,
		objectRepo: objectRepo,
		eventRoot:  eventRoot,
	}
}

func TestCloudSync_UploadFileUsesFolderCache(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	a := filepath.Join(f.eventRoot, "People", "3", "a.jpg")
	b := filepath.Join(f.eventRoot, "People", "3", "b.jpg")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	require.True(t, f.sync.UploadFile(ctx, a, "Wedding"))
	assert.Equal(t, 3, f.storage.Calls("list"))
	assert.Equal(t, 3, f.storage.Calls("create"))
	assert.Equal(t, 1, f.storage.Calls("upload"))

	f.storage.ResetCalls()
	require.True(t, f.sync.UploadFile(ctx, b, "Wedding"))
	assert.Zero(t, f.storage.Calls("list"), "cached chain needs no folder lookups")
	assert.Zero(t, f.storage.Calls("create"))
	assert.Equal(t, 1, f.storage.Calls("upload"))

	assert.ElementsMatch(t, []string{
		"Wedding", "Wedding/People", "Wedding/People/3",
		"Wedding/People/3/a.jpg", "Wedding/People/3/b.jpg",
	}, f.storage.Live())

	obj, err := f.objectRepo.Get(ctx, "Wedding", "People/3/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(1), obj.Size)
}

func TestCloudSync_UploadFileReusesExistingFolders(t *testing.T) {
	f := newSyncFixture(t)
	wedding := f.storage.Add("root", "Wedding", true)
	f.storage.Add(wedding, "NoMatch", true)

	p := filepath.Join(f.eventRoot, "NoMatch", "c.jpg")
	writeFile(t, p, "c")

	require.True(t, f.sync.UploadFile(context.Background(), p, "Wedding"))
	assert.Zero(t, f.storage.Calls("create"))
	assert.Contains(t, f.storage.Live(), "Wedding/NoMatch/c.jpg")
}

func TestCloudSync_UploadFileNeverErrors(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "elsewhere.jpg")
	writeFile(t, outside, "x")
	assert.False(t, f.sync.UploadFile(ctx, outside, "Wedding"))

	assert.False(t, f.sync.UploadFile(ctx, filepath.Join(f.eventRoot, "People", "1", "gone.jpg"), "Wedding"))

	p := filepath.Join(f.eventRoot, "People", "1", "x.jpg")
	writeFile(t, p, "x")
	f.storage.failNext["upload"] = 1
	assert.False(t, f.sync.UploadFile(ctx, p, "Wedding"))
	assert.True(t, f.sync.UploadFile(ctx, p, "Wedding"))
}

func TestCloudSync_WipeFolderPermissionDenied(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	root := f.storage.Add("root", "Wedding", true)
	shared := f.storage.Add(root, "Shared", true)
	f.storage.Add(shared, "mine.jpg", false)
	foreignFile := f.storage.Add(shared, "theirs.jpg", false)
	f.storage.Add(root, "loose.jpg", false)
	lockedFile := f.storage.Add(root, "locked.jpg", false)

	f.storage.denied[shared] = true
	f.storage.denied[foreignFile] = true
	f.storage.denied[lockedFile] = true

	report := f.sync.WipeFolder(ctx, root, false)
	assert.Equal(t, 2, report.Trashed, "loose.jpg and mine.jpg")
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Failed)

	assert.ElementsMatch(t, []string{
		"Wedding", "Wedding/Shared", "Wedding/Shared/theirs.jpg", "Wedding/locked.jpg",
	}, f.storage.Live())
}

func TestCloudSync_WipeFolderCountsFailures(t *testing.T) {
	f := newSyncFixture(t)
	root := f.storage.Add("root", "Wedding", true)
	f.storage.Add(root, "a.jpg", false)
	f.storage.Add(root, "b.jpg", false)
	f.storage.failNext["trash"] = 1

	report := f.sync.WipeFolder(context.Background(), root, false)
	assert.Equal(t, 1, report.Trashed)
	assert.Equal(t, 1, report.Failed)

	f.storage.failNext["list"] = 1
	report = f.sync.WipeFolder(context.Background(), root, false)
	assert.Equal(t, 1, report.Failed)
}

func TestCloudSync_SyncBacklogSkipsLedgerEntries(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(f.eventRoot, "People", "3", "a.jpg"), "a")
	writeFile(t, filepath.Join(f.eventRoot, "NoMatch", "c.jpg"), "c")
	writeFile(t, filepath.Join(f.eventRoot, "NoFaces", "n.jpg"), "n")

	var lastDone, lastTotal int
	run, err := f.sync.SyncBacklog(ctx, func(done, total int) { lastDone, lastTotal = done, total })
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Uploaded, "NoFaces is not mirrored")
	assert.Equal(t, 2, lastDone)
	assert.Equal(t, 2, lastTotal)

	run, err = f.sync.SyncBacklog(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, run.Uploaded)
	assert.Equal(t, 2, run.Skipped)

	writeFile(t, filepath.Join(f.eventRoot, "People", "3", "a.jpg"), "a changed")
	run, err = f.sync.SyncBacklog(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Uploaded)
}

func TestCloudSync_Reconcile(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	root := f.storage.Add("root", "Wedding", true)
	f.storage.Add(root, "stale.jpg", false)
	people := f.storage.Add(root, "People", true)
	f.storage.Add(people, "old.jpg", false)
	f.storage.denied[people] = true

	writeFile(t, filepath.Join(f.eventRoot, "People", "3", "a.jpg"), "a")
	writeFile(t, filepath.Join(f.eventRoot, "NoMatch", "c.jpg"), "c")

	// Warm the cache with an id the wipe will invalidate.
	f.cache.Put("Wedding/NoMatch", "dangling")

	run, err := f.sync.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunKindReconcile, run.Kind)
	assert.Equal(t, models.SyncRunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Trashed)
	assert.Equal(t, 1, run.Kept)
	assert.Equal(t, 2, run.Uploaded)
	assert.Zero(t, run.Failed)

	assert.ElementsMatch(t, []string{
		"Wedding", "Wedding/People", "Wedding/People/3", "Wedding/People/3/a.jpg",
		"Wedding/NoMatch", "Wedding/NoMatch/c.jpg",
	}, f.storage.Live())

	count, err := f.objectRepo.Count(ctx, "Wedding")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCloudSync_ReconcileDryRun(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	root := f.storage.Add("root", "Wedding", true)
	f.storage.Add(root, "stale.jpg", false)
	f.storage.Add(root, "People", true)
	writeFile(t, filepath.Join(f.eventRoot, "People", "3", "a.jpg"), "a")

	before := f.storage.Live()
	run, err := f.sync.Reconcile(ctx, services.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	assert.Equal(t, 2, run.Trashed)
	assert.Equal(t, 1, run.Uploaded)

	assert.Equal(t, before, f.storage.Live())
	assert.Zero(t, f.storage.Calls("trash"))
	assert.Zero(t, f.storage.Calls("create"))
	assert.Zero(t, f.storage.Calls("upload"))
}

func TestCloudSync_ReconcileDryRunWithoutRemoteRoot(t *testing.T) {
	f := newSyncFixture(t)
	writeFile(t, filepath.Join(f.eventRoot, "NoMatch", "c.jpg"), "c")

	run, err := f.sync.Reconcile(context.Background(), services.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, run.Trashed)
	assert.Equal(t, 1, run.Uploaded)
	assert.Empty(t, f.storage.Live())
}

func TestCloudSync_ReconcileRefusesBackendRoot(t *testing.T) {
	for _, root := range []string{"", "/", "//"} {
		t.Run("root "+strconv.Quote(root), func(t *testing.T) {
			f := newSyncFixture(t)
			f.sync = NewCloudSync(f.storage, f.cache, f.objectRepo, f.sync.runRepo, f.eventRoot, root, []string{"People", "NoMatch"})
			f.storage.Add("root", "Unrelated Work Docs", true)
			f.storage.Add("root", "tax-return.pdf", false)
			writeFile(t, filepath.Join(f.eventRoot, "People", "3", "a.jpg"), "a")

			for _, dryRun := range []bool{true, false} {
				run, err := f.sync.Reconcile(context.Background(), services.ReconcileOptions{DryRun: dryRun})
				assert.ErrorIs(t, err, services.ErrRemoteRootRequired)
				assert.Nil(t, run)
			}
			assert.Zero(t, f.storage.Calls("trash"))
			assert.Equal(t, []string{"Unrelated Work Docs", "tax-return.pdf"}, f.storage.Live())
		})
	}
}

func TestFolderCache_Invalidate(t *testing.T) {
	c := NewFolderCache()
	c.Put("Wedding", "1")
	c.Put("Wedding/People", "2")
	c.Put("Wedding/People/3", "3")
	c.Put("Wedding/PeopleExtra", "4")

	c.Invalidate("Wedding/People")
	_, ok := c.Get("Wedding/People/3")
	assert.False(t, ok)
	_, ok = c.Get("Wedding/PeopleExtra")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Reset()
	assert.Zero(t, c.Len())
}
