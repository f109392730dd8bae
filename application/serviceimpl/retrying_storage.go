package serviceimpl

import (
	"context"
	"time"

	"faceforward/domain/services"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

// RetryingStorage bounds every backend call with a timeout and retries
// transient failures with exponential backoff.
type RetryingStorage struct {
	inner       services.RemoteStorage
	callTimeout time.Duration
	maxRetries  int
	backoff     time.Duration
}

func NewRetryingStorage(inner services.RemoteStorage, cfg config.CloudConfig) *RetryingStorage {
	return &RetryingStorage{
		inner:       inner,
		callTimeout: cfg.CallTimeout,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.RetryBackoff,
	}
}

func (s *RetryingStorage) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		}
		err = fn(callCtx)
		timedOut := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			metrics.CloudCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}

		kind := services.RemoteKind(err)
		if timedOut {
			kind = services.RemoteTransient
		}
		metrics.CloudCalls.WithLabelValues(op, kind.String()).Inc()

		if kind != services.RemoteTransient || ctx.Err() != nil {
			return err
		}
		logger.CloudWarn("retry", "Transient remote failure", map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	return err
}

func (s *RetryingStorage) ListChildren(ctx context.Context, folderID string) ([]services.RemoteItem, error) {
	var items []services.RemoteItem
	err := s.do(ctx, "list", func(ctx context.Context) error {
		var err error
		items, err = s.inner.ListChildren(ctx, folderID)
		return err
	})
	return items, err
}

func (s *RetryingStorage) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	var id string
	err := s.do(ctx, "create_folder", func(ctx context.Context) error {
		var err error
		id, err = s.inner.CreateFolder(ctx, parentID, name)
		return err
	})
	return id, err
}

func (s *RetryingStorage) UploadFile(ctx context.Context, parentID, name, localPath string) (string, error) {
	var id string
	err := s.do(ctx, "upload", func(ctx context.Context) error {
		var err error
		id, err = s.inner.UploadFile(ctx, parentID, name, localPath)
		return err
	})
	return id, err
}

func (s *RetryingStorage) Trash(ctx context.Context, itemID string) error {
	return s.do(ctx, "trash", func(ctx context.Context) error {
		return s.inner.Trash(ctx, itemID)
	})
}

func (s *RetryingStorage) RootID() string { return s.inner.RootID() }

func (s *RetryingStorage) Name() string { return s.inner.Name() }
