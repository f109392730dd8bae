package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncRunKind string

const (
	SyncRunKindBacklog   SyncRunKind = "backlog"   // incremental upload of new routed files
	SyncRunKindReconcile SyncRunKind = "reconcile" // wipe + full re-upload
)

type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncRun records one CloudSync pass.
type SyncRun struct {
	ID     uuid.UUID     `gorm:"primaryKey;type:uuid" json:"id"`
	Kind   SyncRunKind   `gorm:"not null;index" json:"kind"`
	Status SyncRunStatus `gorm:"default:'running';index" json:"status"`
	DryRun bool          `json:"dry_run"`

	// Progress tracking
	Uploaded int `gorm:"default:0" json:"uploaded"`
	Failed   int `gorm:"default:0" json:"failed"`
	Skipped  int `gorm:"default:0" json:"skipped"`
	Trashed  int `gorm:"default:0" json:"trashed"`
	Kept     int `gorm:"default:0" json:"kept"` // folders left in place after permission denial

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
