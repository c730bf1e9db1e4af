package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
)

// Alert is one outgoing notification: the chosen frame plus the detections
// that triggered it.
type Alert struct {
	Endpoint   string
	Image      []byte // JPEG bytes
	Detections detect.Set
	LocationID int
	CameraID   int
	Timestamp  time.Time
}

// Notifier delivers alerts to an external endpoint. Failures are reported as
// errors and never retried by the caller.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// detectionEvent mirrors the notification API wire shape.
type detectionEvent struct {
	Confidence     float64 `json:"confidence"`
	Classification string  `json:"classification"`
}

type alertPayload struct {
	Picture        string           `json:"picture"`
	DetectionEvent []detectionEvent `json:"detection_event"`
	LocationID     int              `json:"location_id"`
	CameraID       int              `json:"camera_id"`
	Timestamp      string           `json:"timestamp"`
}

// HTTPNotifier posts alerts as JSON with the frame base64-encoded.
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier creates a notifier with the given request timeout.
func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the alert. A non-2xx response is a failure.
func (n *HTTPNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Endpoint == "" {
		return fmt.Errorf("notifier: no endpoint configured")
	}

	events := make([]detectionEvent, 0, len(alert.Detections.Detections))
	for _, d := range alert.Detections.Detections {
		events = append(events, detectionEvent{
			Confidence:     d.Confidence,
			Classification: d.ClassName,
		})
	}

	payload := alertPayload{
		Picture:        base64.StdEncoding.EncodeToString(alert.Image),
		DetectionEvent: events,
		LocationID:     alert.LocationID,
		CameraID:       alert.CameraID,
		Timestamp:      alert.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, alert.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
