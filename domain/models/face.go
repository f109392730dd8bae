package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

type Face struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	PhotoID uint `gorm:"not null;index" json:"photo_id"`

	// Face embedding vector (512 dimensions for InsightFace)
	Embedding pgvector.Vector `gorm:"type:vector;not null" json:"-"`

	// Bounding box (x, y, width, height as fraction of image)
	BboxX      float64 `gorm:"not null" json:"bbox_x"`
	BboxY      float64 `gorm:"not null" json:"bbox_y"`
	BboxWidth  float64 `gorm:"not null" json:"bbox_width"`
	BboxHeight float64 `gorm:"not null" json:"bbox_height"`

	// Detection confidence (0-1)
	Confidence float64 `gorm:"not null" json:"confidence"`

	// Resolved identity, nil when the face was too weak to identify
	PersonID *uint `gorm:"index" json:"person_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	Person *Person `gorm:"foreignKey:PersonID" json:"-"`
}

func (Face) TableName() string {
	return "faces"
}
