package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"faceforward/domain/services"
	"faceforward/pkg/config"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveStorage implements services.RemoteStorage over Google Drive v3.
// Shared drives are supported on every call.
type DriveStorage struct {
	srv    *drive.Service
	rootID string
}

// NewDriveStorage authenticates with a refresh token when one is configured,
// otherwise with a service account credentials file.
func NewDriveStorage(ctx context.Context, cfg config.GoogleDriveConfig) (*DriveStorage, error) {
	var opts []option.ClientOption

	if cfg.RefreshToken != "" {
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{drive.DriveScope},
			Endpoint:     google.Endpoint,
		}
		client := oauthConfig.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithHTTPClient(client))
	} else {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(drive.DriveScope))
	}

	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return NewDriveStorageWithService(srv, cfg.RootFolderID), nil
}

// NewDriveStorageWithService wraps an existing service. An empty rootID means "My Drive".
func NewDriveStorageWithService(srv *drive.Service, rootID string) *DriveStorage {
	if rootID == "" {
		rootID = "root"
	}
	return &DriveStorage{srv: srv, rootID: rootID}
}

func (d *DriveStorage) RootID() string { return d.rootID }

func (d *DriveStorage) Name() string { return "gdrive" }

// ListChildren lists the non-trashed children of a folder
func (d *DriveStorage) ListChildren(ctx context.Context, folderID string) ([]services.RemoteItem, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))

	var items []services.RemoteItem
	pageToken := ""

	for {
		call := d.srv.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, size)").
			PageSize(100).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)

		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := call.Do()
		if err != nil {
			return nil, classify("list children", folderID, err)
		}

		for _, f := range result.Files {
			items = append(items, services.RemoteItem{
				ID:       f.Id,
				Name:     f.Name,
				IsFolder: f.MimeType == folderMimeType,
				Size:     f.Size,
			})
		}

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return items, nil
}

// CreateFolder creates a folder under parentID and returns its id
func (d *DriveStorage) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := d.srv.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("create folder", name, err)
	}
	return f.Id, nil
}

// UploadFile uploads localPath as name under parentID. A file with the same
// name already in the folder gets its content replaced instead of duplicated.
func (d *DriveStorage) UploadFile(ctx context.Context, parentID, name, localPath string) (string, error) {
	existingID, err := d.findFile(ctx, parentID, name)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", &services.RemoteError{Kind: services.RemoteOther, Op: "upload file", Item: localPath, Err: err}
	}
	defer f.Close()

	var uploaded *drive.File
	if existingID != "" {
		uploaded, err = d.srv.Files.Update(existingID, &drive.File{}).
			Media(f).
			Fields("id").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		uploaded, err = d.srv.Files.Create(&drive.File{
			Name:    name,
			Parents: []string{parentID},
		}).
			Media(f).
			Fields("id").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return "", classify("upload file", name, err)
	}
	return uploaded.Id, nil
}

func (d *DriveStorage) findFile(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and mimeType!='%s' and trashed=false",
		escapeQuery(parentID), escapeQuery(name), folderMimeType)

	result, err := d.srv.Files.List().
		Q(query).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("find file", name, err)
	}
	if len(result.Files) == 0 {
		return "", nil
	}
	return result.Files[0].Id, nil
}

// Trash moves an item to the Drive trash
func (d *DriveStorage) Trash(ctx context.Context, itemID string) error {
	_, err := d.srv.Files.Update(itemID, &drive.File{Trashed: true}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return classify("trash", itemID, err)
	}
	return nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
}

// classify maps Drive API failures onto RemoteError kinds.
func classify(op, item string, err error) error {
	kind := services.RemoteOther

	var gerr *googleapi.Error
	var netErr net.Error
	switch {
	case errors.As(err, &gerr):
		switch {
		case gerr.Code == 403 && hasReason(gerr, rateLimitReasons):
			kind = services.RemoteTransient
		case gerr.Code == 401 || gerr.Code == 403:
			kind = services.RemotePermissionDenied
		case gerr.Code == 404:
			kind = services.RemoteNotFound
		case gerr.Code == 408 || gerr.Code == 429 || gerr.Code >= 500:
			kind = services.RemoteTransient
		}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = services.RemoteTransient
	}

	return &services.RemoteError{Kind: kind, Op: op, Item: item, Err: err}
}

func hasReason(gerr *googleapi.Error, reasons map[string]bool) bool {
	for _, e := range gerr.Errors {
		if reasons[e.Reason] {
			return true
		}
	}
	return false
}
