package serviceimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceforward/domain/services"
	"faceforward/pkg/config"
)

func retryConfig() config.CloudConfig {
	cfg := config.Default().Cloud
	cfg.CallTimeout = time.Second
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestRetryingStorage_RetriesTransient(t *testing.T) {
	inner := newFakeStorage()
	storage := NewRetryingStorage(inner, retryConfig())

	inner.failNext["create"] = 2
	id, err := storage.CreateFolder(context.Background(), "root", "People")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, inner.Calls("create"))

	inner.failNext["list"] = 10
	_, err = storage.ListChildren(context.Background(), "root")
	require.Error(t, err)
	assert.Equal(t, services.RemoteTransient, services.RemoteKind(err))
	assert.Equal(t, 4, inner.Calls("list"), "one call plus three retries")
}

func TestRetryingStorage_DoesNotRetryPermanent(t *testing.T) {
	inner := newFakeStorage()
	item := inner.Add("root", "locked.jpg", false)
	inner.denied[item] = true
	storage := NewRetryingStorage(inner, retryConfig())

	err := storage.Trash(context.Background(), item)
	assert.True(t, services.IsPermissionDenied(err))
	assert.Equal(t, 1, inner.Calls("trash"))

	err = storage.Trash(context.Background(), "missing")
	assert.Equal(t, services.RemoteNotFound, services.RemoteKind(err))
	assert.Equal(t, 2, inner.Calls("trash"))
}

// stallingStorage blocks every upload until its context ends.
type stallingStorage struct {
	*fakeStorage
}

func (s stallingStorage) UploadFile(ctx context.Context, parentID, name, localPath string) (string, error) {
	s.mu.Lock()
	s.calls["upload"]++
	s.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRetryingStorage_CallTimeoutIsTransient(t *testing.T) {
	inner := stallingStorage{newFakeStorage()}
	cfg := retryConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	storage := NewRetryingStorage(inner, cfg)

	_, err := storage.UploadFile(context.Background(), "root", "a.jpg", "/tmp/a.jpg")
	require.Error(t, err)
	assert.Equal(t, 2, inner.Calls("upload"))
}

func TestRetryingStorage_StopsOnCancel(t *testing.T) {
	inner := newFakeStorage()
	inner.failNext["list"] = 10
	cfg := retryConfig()
	cfg.RetryBackoff = time.Hour
	storage := NewRetryingStorage(inner, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := storage.ListChildren(ctx, "root")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.Calls("list"))
}
