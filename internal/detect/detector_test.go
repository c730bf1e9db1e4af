package detect

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDetectorParsesDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("content-type = %q, want image/jpeg", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[{"class_name":"gun","confidence":0.91,"x1":10,"y1":20,"x2":110,"y2":220}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 2*time.Second)
	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("detections = %d, want 1", len(dets))
	}
	got := dets[0]
	if got.ClassName != "gun" || got.Confidence != 0.91 || got.X2 != 110 || got.Y2 != 220 {
		t.Fatalf("detection = %+v", got)
	}
}

func TestHTTPDetectorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 2*time.Second)
	if _, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8))); err == nil {
		t.Fatalf("Detect did not report non-200 status")
	}
}
