package serviceimpl

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pgvector/pgvector-go"

	"faceforward/domain/repositories"
	"faceforward/domain/services"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
	"faceforward/pkg/metrics"
)

// FacePipelineImpl resolves embeddings to persons by nearest centroid.
// Identify calls are serialized so two workers in one process never create
// two persons for the same new face.
type FacePipelineImpl struct {
	detector   services.FaceDetector
	personRepo repositories.PersonRepository

	threshold     float64
	minConfidence float64

	mu sync.Mutex
}

func NewFacePipeline(detector services.FaceDetector, personRepo repositories.PersonRepository, cfg config.IdentifyConfig) services.FacePipeline {
	return &FacePipelineImpl{
		detector:      detector,
		personRepo:    personRepo,
		threshold:     cfg.MatchThreshold,
		minConfidence: cfg.MinConfidence,
	}
}

func (s *FacePipelineImpl) Detect(ctx context.Context, image []byte, mimeType string) ([]services.DetectedFace, error) {
	faces, err := s.detector.Detect(ctx, image, mimeType)
	if err != nil {
		return nil, err
	}
	metrics.FacesDetected.Add(float64(len(faces)))
	return faces, nil
}

func (s *FacePipelineImpl) IsAvailable(ctx context.Context) bool {
	return s.detector.IsAvailable(ctx)
}

// Identify returns the person for an embedding, creating one when no centroid
// is similar enough. A face below the minimum confidence resolves to 0.
func (s *FacePipelineImpl) Identify(ctx context.Context, src repositories.EmbeddingSource, embedding []float32, confidence float64) (uint, error) {
	if confidence < s.minConfidence || len(embedding) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	persons, err := s.personRepo.ListCentroids(ctx)
	if err != nil {
		return 0, services.Transient("load centroids", err)
	}

	bestIdx := -1
	bestSim := -1.0
	for i := range persons {
		sim := CosineSimilarity(embedding, persons[i].Centroid.Slice())
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestSim >= s.threshold {
		best := persons[bestIdx]
		centroid := RunningMean(best.Centroid.Slice(), best.EmbeddingCount, embedding)
		if err := s.personRepo.AddEmbedding(ctx, src, best.ID, pgvector.NewVector(embedding), confidence, pgvector.NewVector(centroid)); err != nil {
			return 0, services.Transient(fmt.Sprintf("add embedding to person %d", best.ID), err)
		}
		return best.ID, nil
	}

	person, err := s.personRepo.CreateWithEmbedding(ctx, src, pgvector.NewVector(embedding), confidence)
	if err != nil {
		return 0, services.Transient("create person", err)
	}
	metrics.PersonsCreated.Inc()
	logger.Face("person_created", "New person from unmatched face", map[string]interface{}{
		"person_id":       person.ID,
		"best_similarity": bestSim,
	})
	return person.ID, nil
}

// Forget takes back every reference the run src added.
func (s *FacePipelineImpl) Forget(ctx context.Context, src repositories.EmbeddingSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.personRepo.DiscardEmbeddings(ctx, src)
	if err != nil {
		return services.Transient(fmt.Sprintf("discard embeddings of photo %d", src.PhotoID), err)
	}
	if removed > 0 {
		logger.Face("embeddings_discarded", "Identity writes of an uncommitted run taken back", map[string]interface{}{
			"photo_id": src.PhotoID,
			"removed":  removed,
		})
	}
	return nil
}

// ForgetStale takes back references earlier runs left for the same photo.
func (s *FacePipelineImpl) ForgetStale(ctx context.Context, src repositories.EmbeddingSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.personRepo.DiscardStaleEmbeddings(ctx, src)
	if err != nil {
		return services.Transient(fmt.Sprintf("discard stale embeddings of photo %d", src.PhotoID), err)
	}
	if removed > 0 {
		logger.Face("stale_embeddings_discarded", "References from an earlier run removed before reprocessing", map[string]interface{}{
			"photo_id": src.PhotoID,
			"removed":  removed,
		})
	}
	return nil
}

// CosineSimilarity computes the cosine similarity between two embedding vectors
// Returns a value between -1 and 1, where 1 means identical
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RunningMean folds one more sample into a mean of count samples.
func RunningMean(mean []float32, count int, sample []float32) []float32 {
	out := make([]float32, len(sample))
	if len(mean) != len(sample) || count < 1 {
		copy(out, sample)
		return out
	}
	n := float64(count)
	for i := range sample {
		out[i] = float32((float64(mean[i])*n + float64(sample[i])) / (n + 1))
	}
	return out
}
