package stream

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/capture"
	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
	"github.com/ctmphuongg/weapon-detection-app/internal/metrics"
	"github.com/ctmphuongg/weapon-detection-app/internal/notify"
	"github.com/ctmphuongg/weapon-detection-app/pkg/types"
)

// fakeSource scripts connection behavior for the manager.
type fakeSource struct {
	mu          sync.Mutex
	opens       int
	failOpens   int  // opens that fail before one succeeds (-1: always fail)
	alwaysMiss  bool // Read always reports a transient miss
	failAtRead  int  // read index that fails once with a connection error (0: never)
	reads       int
	frameNumber uint64
}

func (f *fakeSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.failOpens < 0 || f.opens <= f.failOpens {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSource) Read() (*types.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysMiss {
		return nil, capture.ErrNoFrame
	}
	f.reads++
	if f.failAtRead > 0 && f.reads == f.failAtRead {
		f.failAtRead = 0
		return nil, errors.New("stream reset")
	}
	f.frameNumber++
	return &types.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 16, 16)),
		Timestamp: time.Now(),
		Number:    f.frameNumber,
	}, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fakeDetector yields the scripted result sequence, then empty sets.
type fakeDetector struct {
	mu      sync.Mutex
	results [][]detect.Detection
	idx     int
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.results) {
		r := f.results[f.idx]
		f.idx++
		return r, nil
	}
	return nil, nil
}

type dropNotifier struct{}

func (dropNotifier) Send(context.Context, notify.Alert) error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetWidth = 16
	cfg.DetectionTimeout = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectDelay = 5 * time.Millisecond
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.MissRetryDelay = time.Millisecond
	cfg.CycleYield = time.Millisecond
	cfg.QueueCapacity = 16
	return cfg
}

func newTestManager(src capture.Source, det detect.Detector) *Manager {
	m := metrics.New()
	engine := notify.NewEngine(notify.DefaultConfig("http://example.invalid"), dropNotifier{}, m, 1, 1)
	return NewManager(testConfig(), src, det, engine, m)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestManagerReconnectExhaustionIsTerminal(t *testing.T) {
	src := &fakeSource{failOpens: -1}
	mgr := newTestManager(src, &fakeDetector{})
	mgr.Extend(1000)
	mgr.Start()
	defer mgr.Stop()

	waitFor(t, 2*time.Second, func() bool { return !mgr.Active() }, "stream to deactivate")

	// One initial attempt plus MaxReconnectAttempts retries, then no more.
	opens := src.openCount()
	if opens != 3 {
		t.Fatalf("open attempts = %d, want 3 (initial + 2 retries)", opens)
	}
	time.Sleep(50 * time.Millisecond)
	if src.openCount() != opens {
		t.Fatalf("reconnects continued after the bound was exceeded")
	}
}

func TestManagerReconnectsAfterStreamError(t *testing.T) {
	src := &fakeSource{failAtRead: 3}
	mgr := newTestManager(src, &fakeDetector{})
	mgr.Extend(1000)
	mgr.Start()
	defer mgr.Stop()

	// The read error forces a reconnect; the second connection succeeds and
	// keeps serving frames.
	waitFor(t, 2*time.Second, func() bool { return src.openCount() >= 2 }, "reconnect after read error")
	if !mgr.Active() {
		t.Fatalf("stream deactivated on a recoverable error")
	}
}

func TestManagerPublishesLatestAndDistributesFrames(t *testing.T) {
	dets := []detect.Detection{{ClassName: "gun", Confidence: 0.9, X1: 1, Y1: 1, X2: 5, Y2: 5}}
	det := &fakeDetector{results: [][]detect.Detection{dets, dets, dets}}
	src := &fakeSource{}
	mgr := newTestManager(src, det)
	mgr.Extend(1000)
	mgr.Start()
	defer mgr.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, _, ok := mgr.LatestPair()
		return ok
	}, "latest pair to publish")

	waitFor(t, 2*time.Second, func() bool { return mgr.Distributor().Len() > 0 }, "frames to reach the distributor")

	data, ok := mgr.Distributor().Next(context.Background(), time.Second)
	if !ok || len(data) == 0 {
		t.Fatalf("no encoded frame available to viewers")
	}
	// JPEG SOI marker.
	if data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("distributed frame is not JPEG encoded")
	}
}

func TestManagerClearsVisibleDetectionsAfterTimeout(t *testing.T) {
	dets := []detect.Detection{{ClassName: "gun", Confidence: 0.9}}
	det := &fakeDetector{results: [][]detect.Detection{dets}}
	src := &fakeSource{}
	mgr := newTestManager(src, det)
	mgr.Extend(1000)
	mgr.Start()
	defer mgr.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(mgr.VisibleDetections()) > 0 }, "detections to become visible")

	// Only empty sets follow; after the detection timeout the view clears.
	waitFor(t, 2*time.Second, func() bool { return len(mgr.VisibleDetections()) == 0 }, "detections to clear after timeout")

	if mgr.History().Len() != 1 {
		t.Fatalf("history len = %d, want 1 episode", mgr.History().Len())
	}
}

func TestManagerKeepAliveExpiryStopsStream(t *testing.T) {
	src := &fakeSource{alwaysMiss: true}
	mgr := newTestManager(src, &fakeDetector{})
	mgr.Extend(1)
	mgr.Start()

	waitFor(t, 3*time.Second, func() bool { return !mgr.Active() }, "keep-alive expiry to stop the stream")

	// A fresh keep-alive restarts the expired stream.
	mgr.Extend(1000)
	mgr.Start()
	defer mgr.Stop()
	if !mgr.Active() {
		t.Fatalf("stream did not restart after keep-alive reset")
	}
}

func TestManagerStartIsIdempotent(t *testing.T) {
	src := &fakeSource{alwaysMiss: true}
	mgr := newTestManager(src, &fakeDetector{})
	mgr.Extend(1000)
	mgr.Start()
	mgr.Start()
	defer mgr.Stop()

	waitFor(t, time.Second, func() bool { return src.openCount() >= 1 }, "source to open")
	if src.openCount() != 1 {
		t.Fatalf("open attempts = %d after double Start, want 1", src.openCount())
	}
	if !mgr.Active() {
		t.Fatalf("stream not active after Start")
	}
}
