package models

import (
	"time"
)

// CloudObject is a ledger entry for a file already mirrored to remote storage.
type CloudObject struct {
	ID           uint   `gorm:"primaryKey"`
	RemoteRoot   string `gorm:"not null;uniqueIndex:idx_cloud_objects_root_path"`
	RelativePath string `gorm:"not null;uniqueIndex:idx_cloud_objects_root_path"`
	RemoteID     string
	Size         int64
	ModTime      time.Time
	UploadedAt   time.Time
}

func (CloudObject) TableName() string {
	return "cloud_objects"
}
