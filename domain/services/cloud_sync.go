package services

import (
	"context"

	"faceforward/domain/models"
)

// WipeReport summarizes a recursive trash pass.
type WipeReport struct {
	Trashed int      `json:"trashed"`
	Kept    int      `json:"kept"`    // folders emptied in place after a permission denial
	Skipped int      `json:"skipped"` // files left after a permission denial
	Failed  int      `json:"failed"`
	Items   []string `json:"items,omitempty"` // dry run only
}

func (r *WipeReport) Add(o WipeReport) {
	r.Trashed += o.Trashed
	r.Kept += o.Kept
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Items = append(r.Items, o.Items...)
}

type ReconcileOptions struct {
	DryRun   bool
	Progress func(done, total int)
}

type CloudSync interface {
	// UploadFile mirrors one local file and reports success. It never returns an error.
	UploadFile(ctx context.Context, localPath, remoteRoot string) bool
	SyncBacklog(ctx context.Context, progress func(done, total int)) (*models.SyncRun, error)
	WipeFolder(ctx context.Context, folderID string, dryRun bool) WipeReport
	Reconcile(ctx context.Context, opts ReconcileOptions) (*models.SyncRun, error)
	RemoteRoot() string
}
