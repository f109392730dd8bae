package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"faceforward/domain/services"
)

// FaceClient communicates with the Face Detection Python service
type FaceClient struct {
	baseURL    string
	httpClient *http.Client
}

// detectedFace is a face as returned by the API
type detectedFace struct {
	// Bounding box (normalized 0-1)
	BboxX      float64 `json:"bbox_x"`
	BboxY      float64 `json:"bbox_y"`
	BboxWidth  float64 `json:"bbox_width"`
	BboxHeight float64 `json:"bbox_height"`

	// Face embedding (512 dimensions for InsightFace)
	Embedding []float32 `json:"embedding"`

	// Detection confidence
	Confidence float64 `json:"confidence"`
}

// ExtractResponse is the response from face extraction
type ExtractResponse struct {
	Success bool           `json:"success"`
	Faces   []detectedFace `json:"faces"`
	Error   string         `json:"error,omitempty"`

	// Processing info
	ProcessingTimeMs int `json:"processing_time_ms"`
}

// HealthResponse is the response from health check
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

// NewFaceClient creates a new face API client
func NewFaceClient(baseURL string, timeout time.Duration) *FaceClient {
	if timeout <= 0 {
		timeout = 120 * time.Second // Face processing can take time, especially on CPU
	}
	return &FaceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// classifyStatus maps a non-200 response onto the pipeline's error taxonomy.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("face API error (status %d): %s", status, truncate(body, 200))
	switch {
	case status == http.StatusBadRequest,
		status == http.StatusUnsupportedMediaType,
		status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge:
		return services.Unprocessable("%v", err)
	case status == http.StatusTooManyRequests, status >= 500:
		return services.Transient("extract faces", err)
	default:
		return err
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// ExtractFacesFromBytes extracts faces from image bytes
func (c *FaceClient) ExtractFacesFromBytes(ctx context.Context, imageData []byte, mimeType string) (*ExtractResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/extract-bytes", bytes.NewBuffer(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Cancellation is the caller's decision, not a detector failure.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, services.Transient("call face API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Transient("read face API response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var result ExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, services.Transient("parse face API response", err)
	}

	if !result.Success {
		return nil, services.Unprocessable("face extraction failed: %s", result.Error)
	}

	return &result, nil
}

// Detect implements services.FaceDetector.
func (c *FaceClient) Detect(ctx context.Context, image []byte, mimeType string) ([]services.DetectedFace, error) {
	result, err := c.ExtractFacesFromBytes(ctx, image, mimeType)
	if err != nil {
		return nil, err
	}

	faces := make([]services.DetectedFace, 0, len(result.Faces))
	for _, f := range result.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		faces = append(faces, services.DetectedFace{
			BboxX:      f.BboxX,
			BboxY:      f.BboxY,
			BboxWidth:  f.BboxWidth,
			BboxHeight: f.BboxHeight,
			Embedding:  f.Embedding,
			Confidence: f.Confidence,
		})
	}
	return faces, nil
}

// Health checks if the face API is healthy
func (c *FaceClient) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call health API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// IsAvailable checks if the face API is available
func (c *FaceClient) IsAvailable(ctx context.Context) bool {
	health, err := c.Health(ctx)
	if err != nil {
		return false
	}
	return health.Status == "ok"
}
