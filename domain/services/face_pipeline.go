package services

import (
	"context"

	"faceforward/domain/repositories"
)

// DetectedFace is one face found by the detector.
type DetectedFace struct {
	// Bounding box (normalized 0-1)
	BboxX      float64
	BboxY      float64
	BboxWidth  float64
	BboxHeight float64

	Embedding  []float32
	Confidence float64
}

// FaceDetector finds faces in an encoded image.
type FaceDetector interface {
	Detect(ctx context.Context, image []byte, mimeType string) ([]DetectedFace, error)
	IsAvailable(ctx context.Context) bool
}

// FacePipeline detects faces and resolves embeddings to persons,
// creating a person when nothing known is close enough.
//
// Identity writes are tagged with their source run. A run whose photo does
// not commit as completed must be handed to Forget, and a new run starts
// with ForgetStale so nothing an earlier run left behind is counted twice.
type FacePipeline interface {
	Detect(ctx context.Context, image []byte, mimeType string) ([]DetectedFace, error)
	Identify(ctx context.Context, src repositories.EmbeddingSource, embedding []float32, confidence float64) (uint, error)
	Forget(ctx context.Context, src repositories.EmbeddingSource) error
	ForgetStale(ctx context.Context, src repositories.EmbeddingSource) error
	IsAvailable(ctx context.Context) bool
}
