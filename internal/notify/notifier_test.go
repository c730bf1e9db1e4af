package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
)

func TestHTTPNotifierSendPayload(t *testing.T) {
	var received alertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2 * time.Second)
	alert := Alert{
		Endpoint: srv.URL,
		Image:    []byte("jpeg-bytes"),
		Detections: detect.NewSet([]detect.Detection{
			{ClassName: "gun", Confidence: 0.82},
		}, time.Now()),
		LocationID: 1,
		CameraID:   2,
		Timestamp:  time.Now(),
	}
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(received.Picture)
	if err != nil {
		t.Fatalf("picture is not base64: %v", err)
	}
	if string(decoded) != "jpeg-bytes" {
		t.Fatalf("picture = %q", decoded)
	}
	if len(received.DetectionEvent) != 1 {
		t.Fatalf("detection_event len = %d, want 1", len(received.DetectionEvent))
	}
	if received.DetectionEvent[0].Classification != "gun" || received.DetectionEvent[0].Confidence != 0.82 {
		t.Fatalf("detection_event = %+v", received.DetectionEvent[0])
	}
	if received.LocationID != 1 || received.CameraID != 2 {
		t.Fatalf("ids = %d/%d, want 1/2", received.LocationID, received.CameraID)
	}
}

func TestHTTPNotifierStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2 * time.Second)
	err := n.Send(context.Background(), Alert{Endpoint: srv.URL})
	if err == nil {
		t.Fatalf("Send did not report non-2xx status")
	}
}

func TestHTTPNotifierNoEndpoint(t *testing.T) {
	n := NewHTTPNotifier(time.Second)
	if err := n.Send(context.Background(), Alert{}); err == nil {
		t.Fatalf("Send did not reject missing endpoint")
	}
}
