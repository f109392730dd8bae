package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"faceforward/domain/services"
	"faceforward/infrastructure/media"
	"faceforward/pkg/config"
)

// MinIOStorage implements services.RemoteStorage over an S3 bucket.
// Folder ids are key prefixes ending in "/", each with an empty marker
// object so that empty folders are listable. Trash removes objects.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	root   string
}

func NewMinIOStorage(cfg config.MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		root:   folderKey(cfg.Prefix),
	}, nil
}

// folderKey normalizes a prefix to "a/b/" form; the bucket root is "".
func folderKey(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("check bucket", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return classify("create bucket", s.bucket, err)
		}
	}
	return nil
}

func (s *MinIOStorage) RootID() string { return s.root }

func (s *MinIOStorage) Name() string { return "minio" }

// ListChildren lists the direct children of a folder prefix.
func (s *MinIOStorage) ListChildren(ctx context.Context, folderID string) ([]services.RemoteItem, error) {
	var items []services.RemoteItem
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    folderID,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, classify("list children", folderID, obj.Err)
		}
		if obj.Key == folderID {
			continue // the folder's own marker
		}
		items = append(items, childItem(folderID, obj.Key, obj.Size))
	}
	return items, nil
}

func childItem(folderID, key string, size int64) services.RemoteItem {
	name := strings.TrimPrefix(key, folderID)
	isFolder := strings.HasSuffix(name, "/")
	return services.RemoteItem{
		ID:       key,
		Name:     strings.TrimSuffix(name, "/"),
		IsFolder: isFolder,
		Size:     size,
	}
}

// CreateFolder writes the marker object for parentID/name/.
func (s *MinIOStorage) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	key := parentID + name + "/"
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return "", classify("create folder", key, err)
	}
	return key, nil
}

// UploadFile overwrites the key, so repeating an upload is harmless.
func (s *MinIOStorage) UploadFile(ctx context.Context, parentID, name, localPath string) (string, error) {
	key := parentID + name
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: media.MimeType(name),
	})
	if err != nil {
		return "", classify("upload file", key, err)
	}
	return key, nil
}

// Trash removes an object, or a whole folder prefix in one batch request.
func (s *MinIOStorage) Trash(ctx context.Context, itemID string) error {
	if !strings.HasSuffix(itemID, "/") {
		if err := s.client.RemoveObject(ctx, s.bucket, itemID, minio.RemoveObjectOptions{}); err != nil {
			return classify("trash", itemID, err)
		}
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	go func() {
		defer close(objectsCh)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: itemID, Recursive: true}) {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			objectsCh <- minio.ObjectInfo{Key: obj.Key}
		}
	}()

	var firstErr error
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && firstErr == nil {
			firstErr = classify("trash", result.ObjectName, result.Err)
		}
	}
	select {
	case err := <-listErr:
		if firstErr == nil {
			firstErr = classify("trash", itemID, err)
		}
	default:
	}
	return firstErr
}

var transientCodes = map[string]bool{
	"SlowDown":                   true,
	"InternalError":              true,
	"ServiceUnavailable":         true,
	"RequestTimeout":             true,
	"XMinioServerNotInitialized": true,
}

// classify maps S3 error responses onto RemoteError kinds.
func classify(op, item string, err error) error {
	kind := services.RemoteOther
	resp := minio.ToErrorResponse(err)

	var netErr net.Error
	switch {
	case resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch" ||
		resp.StatusCode == http.StatusForbidden:
		kind = services.RemotePermissionDenied
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		kind = services.RemoteNotFound
	case transientCodes[resp.Code] || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		kind = services.RemoteTransient
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = services.RemoteTransient
	}

	return &services.RemoteError{Kind: kind, Op: op, Item: item, Err: err}
}
