package serviceimpl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

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

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type fakeNode struct {
	id, name, parent string
	folder           bool
	trashed          bool
}

// fakeStorage is an in-memory RemoteStorage that counts calls per verb.
type fakeStorage struct {
	mu       sync.Mutex
	nodes    map[string]*fakeNode
	order    []string
	next     int
	denied   map[string]bool
	failNext map[string]int
	calls    map[string]int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		nodes:    make(map[string]*fakeNode),
		denied:   make(map[string]bool),
		failNext: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeStorage) add(parent, name string, folder bool) string {
	f.next++
	id := fmt.Sprintf("n%d", f.next)
	f.nodes[id] = &fakeNode{id: id, name: name, parent: parent, folder: folder}
	f.order = append(f.order, id)
	return id
}

// Add creates a node directly, bypassing call counting.
func (f *fakeStorage) Add(parent, name string, folder bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(parent, name, folder)
}

func (f *fakeStorage) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStorage) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Live returns the logical paths of every non-trashed node.
func (f *fakeStorage) Live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range f.order {
		n := f.nodes[id]
		if f.alive(n) {
			out = append(out, f.pathOf(n))
		}
	}
	return out
}

func (f *fakeStorage) alive(n *fakeNode) bool {
	for n != nil {
		if n.trashed {
			return false
		}
		n = f.nodes[n.parent]
	}
	return true
}

func (f *fakeStorage) pathOf(n *fakeNode) string {
	var parts []string
	for n != nil {
		parts = append([]string{n.name}, parts...)
		n = f.nodes[n.parent]
	}
	return strings.Join(parts, "/")
}

func (f *fakeStorage) fail(op string) error {
	if f.failNext[op] > 0 {
		f.failNext[op]--
		return &services.RemoteError{Kind: services.RemoteTransient, Op: op, Err: fmt.Errorf("503")}
	}
	return nil
}

func (f *fakeStorage) ListChildren(ctx context.Context, folderID string) ([]services.RemoteItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	var items []services.RemoteItem
	for _, id := range f.order {
		n := f.nodes[id]
		if n.parent == folderID && !n.trashed {
			items = append(items, services.RemoteItem{ID: n.id, Name: n.name, IsFolder: n.folder})
		}
	}
	return items, nil
}

func (f *fakeStorage) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	if err := f.fail("create"); err != nil {
		return "", err
	}
	return f.add(parentID, name, true), nil
}

func (f *fakeStorage) UploadFile(ctx context.Context, parentID, name, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["upload"]++
	if err := f.fail("upload"); err != nil {
		return "", err
	}
	for _, id := range f.order {
		n := f.nodes[id]
		if n.parent == parentID && n.name == name && !n.trashed && !n.folder {
			return id, nil
		}
	}
	return f.add(parentID, name, false), nil
}

func (f *fakeStorage) Trash(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["trash"]++
	if err := f.fail("trash"); err != nil {
		return err
	}
	n, ok := f.nodes[itemID]
	if !ok || n.trashed {
		return &services.RemoteError{Kind: services.RemoteNotFound, Op: "trash", Item: itemID, Err: fmt.Errorf("404")}
	}
	if f.denied[itemID] {
		return &services.RemoteError{Kind: services.RemotePermissionDenied, Op: "trash", Item: itemID, Err: fmt.Errorf("403")}
	}
	n.trashed = true
	return nil
}

func (f *fakeStorage) RootID() string { return "root" }

func (f *fakeStorage) Name() string { return "fake" }
