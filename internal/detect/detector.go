package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"
)

// Detector turns one frame into the detections it contains. Implementations
// must be safe to call repeatedly from the pipeline goroutine; the model
// internals (YOLO or otherwise) are not this package's concern.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// HTTPDetector sends JPEG frames to an inference sidecar and parses the
// returned detection list.
type HTTPDetector struct {
	endpoint string
	client   *http.Client
	quality  int
}

// NewHTTPDetector creates a detector client for the given inference endpoint.
func NewHTTPDetector(endpoint string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		quality:  85,
	}
}

// Detect posts the frame and returns the parsed detections.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference returned status %d", resp.StatusCode)
	}

	var payload struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return payload.Detections, nil
}
