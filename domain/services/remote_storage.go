package services

import (
	"context"
	"errors"
	"fmt"
)

// RemoteItem is a child of a remote folder.
type RemoteItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsFolder bool   `json:"is_folder"`
	Size     int64  `json:"size"`
}

// RemoteStorage is the folder/file contract CloudSync needs from a backend.
// ListChildren only returns items that are not trashed.
type RemoteStorage interface {
	ListChildren(ctx context.Context, folderID string) ([]RemoteItem, error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	UploadFile(ctx context.Context, parentID, name, localPath string) (string, error)
	Trash(ctx context.Context, itemID string) error

	// RootID is the folder every remote root path is resolved under.
	RootID() string
	Name() string
}

type RemoteErrorKind int

const (
	RemoteOther RemoteErrorKind = iota
	RemotePermissionDenied
	RemoteNotFound
	RemoteTransient
)

func (k RemoteErrorKind) String() string {
	switch k {
	case RemotePermissionDenied:
		return "permission_denied"
	case RemoteNotFound:
		return "not_found"
	case RemoteTransient:
		return "transient"
	default:
		return "other"
	}
}

// RemoteError is the only error type a RemoteStorage backend returns.
type RemoteError struct {
	Kind RemoteErrorKind
	Op   string
	Item string
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Item, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// RemoteKind extracts the kind of a remote failure. Non-remote errors are RemoteOther.
func RemoteKind(err error) RemoteErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return RemoteOther
}

func IsPermissionDenied(err error) bool {
	return err != nil && RemoteKind(err) == RemotePermissionDenied
}
