package models

import (
	"time"
)

type PhotoStatus string

const (
	PhotoStatusPending    PhotoStatus = "pending"
	PhotoStatusProcessing PhotoStatus = "processing"
	PhotoStatusCompleted  PhotoStatus = "completed"
	PhotoStatusNoFaces    PhotoStatus = "no_faces"
	PhotoStatusError      PhotoStatus = "error"
	PhotoStatusStuck      PhotoStatus = "stuck"
)

// AllPhotoStatuses lists every status in lifecycle order.
var AllPhotoStatuses = []PhotoStatus{
	PhotoStatusPending,
	PhotoStatusProcessing,
	PhotoStatusCompleted,
	PhotoStatusNoFaces,
	PhotoStatusError,
	PhotoStatusStuck,
}

func (s PhotoStatus) Valid() bool {
	for _, v := range AllPhotoStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final under normal operation.
// error is terminal too but can be reset for reprocessing.
func (s PhotoStatus) Terminal() bool {
	switch s {
	case PhotoStatusCompleted, PhotoStatusNoFaces, PhotoStatusError, PhotoStatusStuck:
		return true
	}
	return false
}

type Photo struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Intake
	OriginalPath string     `gorm:"not null" json:"original_path"`
	FileName     string     `gorm:"uniqueIndex;not null" json:"file_name"` // name used for every routed copy
	ContentHash  string     `gorm:"uniqueIndex;size:64;not null" json:"content_hash"`
	FileSize     int64      `json:"file_size"`
	TakenAt      *time.Time `json:"taken_at,omitempty"` // from EXIF when available

	// Processing
	Status        PhotoStatus `gorm:"default:'pending';index;not null" json:"status"`
	ProcessedPath string      `json:"processed_path,omitempty"`
	ThumbnailPath string      `json:"thumbnail_path,omitempty"`
	FaceCount     int         `gorm:"default:0" json:"face_count"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
	ErrorDetail   string      `gorm:"type:text" json:"error_detail,omitempty"`

	// Claim bookkeeping
	ClaimedBy  string     `gorm:"index" json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	ResetCount int        `gorm:"default:0" json:"reset_count"`
	Attempts   int        `gorm:"default:0" json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Faces []Face `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE" json:"faces,omitempty"`
}

func (Photo) TableName() string {
	return "photos"
}
