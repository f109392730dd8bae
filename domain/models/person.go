package models

import (
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

type Person struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Label string `json:"label"`

	// Running mean of all reference embeddings
	Centroid       pgvector.Vector `gorm:"type:vector;not null" json:"-"`
	EmbeddingCount int             `gorm:"default:0" json:"embedding_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Embeddings []PersonEmbedding `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Person) TableName() string {
	return "persons"
}

// DefaultPersonLabel is the label a person gets until an operator renames it.
func DefaultPersonLabel(id uint) string {
	return fmt.Sprintf("Person %d", id)
}

// PersonEmbedding is one reference embedding accumulated for a person.
type PersonEmbedding struct {
	ID             uint            `gorm:"primaryKey"`
	PersonID       uint            `gorm:"not null;index"`
	PhotoID        uint            `gorm:"index"`
	RunToken       string          `gorm:"size:64;index"`
	Embedding      pgvector.Vector `gorm:"type:vector;not null"`
	FaceConfidence float64
	CreatedAt      time.Time
}

func (PersonEmbedding) TableName() string {
	return "person_embeddings"
}
