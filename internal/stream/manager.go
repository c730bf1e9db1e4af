package stream

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"sync"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/capture"
	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
	"github.com/ctmphuongg/weapon-detection-app/internal/logger"
	"github.com/ctmphuongg/weapon-detection-app/internal/metrics"
	"github.com/ctmphuongg/weapon-detection-app/internal/notify"
	"github.com/ctmphuongg/weapon-detection-app/pkg/types"
)

// Config holds the pipeline runtime configuration.
type Config struct {
	TargetWidth          int           // Frame resize width (aspect-preserving)
	JPEGQuality          int           // Encode quality for the viewer feed
	DetectionTimeout     time.Duration // Idle gap before detections count as disappeared
	HistoryRetention     time.Duration // Rolling detection-history window
	MaxReconnectAttempts int           // Consecutive failures before the stream stops
	ReconnectDelay       time.Duration // Fixed wait between reconnect attempts
	ConnectTimeout       time.Duration // Bound on one connection attempt
	MissRetryDelay       time.Duration // Yield after a transient frame miss
	CycleYield           time.Duration // Yield at the end of each cycle
	QueueCapacity        int           // Frame distributor capacity
}

// DefaultConfig mirrors the production pipeline defaults.
func DefaultConfig() Config {
	return Config{
		TargetWidth:          680,
		JPEGQuality:          80,
		DetectionTimeout:     2 * time.Second,
		HistoryRetention:     time.Hour,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MissRetryDelay:       100 * time.Millisecond,
		CycleYield:           10 * time.Millisecond,
		QueueCapacity:        DefaultQueueCapacity,
	}
}

// Status is a point-in-time view of the stream state.
type Status struct {
	Active            bool      `json:"active"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	KeepAlive         int       `json:"keep_alive"`
	LastDetection     time.Time `json:"last_detection,omitempty"`
	HistoryLen        int       `json:"history_len"`
	QueueLen          int       `json:"queue_len"`
}

// Manager owns the stream lifecycle: the connection state machine with
// bounded reconnects, the per-frame processing cycle, the latest
// frame/detections pair, and the keep-alive activity monitor. Exactly one
// Manager exists per running pipeline; its active flag is the sole
// authority for whether background work may continue.
type Manager struct {
	cfg      Config
	source   capture.Source
	detector detect.Detector
	engine   *notify.Engine
	dist     *Distributor
	history  *History
	m        *metrics.Metrics
	now      func() time.Time

	mu                sync.Mutex
	active            bool
	reconnectAttempts int
	keepAlive         int
	lastDetection     time.Time
	latestFrame       *types.Frame
	latestSet         detect.Set
	visibleDetections []detect.Detection
	cancel            context.CancelFunc
	done              chan struct{}
}

// NewManager wires a pipeline around the given source, detector and
// notification engine.
func NewManager(cfg Config, source capture.Source, detector detect.Detector, engine *notify.Engine, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		source:   source,
		detector: detector,
		engine:   engine,
		dist:     NewDistributor(cfg.QueueCapacity),
		history:  NewHistory(cfg.HistoryRetention, cfg.DetectionTimeout),
		m:        m,
		now:      time.Now,
	}
}

// Distributor exposes the shared viewer queue.
func (s *Manager) Distributor() *Distributor {
	return s.dist
}

// History exposes the detection episode log.
func (s *Manager) History() *History {
	return s.history
}

// Start launches the pipeline and its activity monitor. Idempotent while
// the stream is active.
func (s *Manager) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	logger.Info("Stream", "Starting stream...")
	s.active = true
	s.reconnectAttempts = 0
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.m.StreamActive.Store(1)
	go s.run(ctx, done)
	go s.monitorActivity(ctx)
}

// Stop deactivates the stream, cancels the pipeline and waits for it to
// exit.
func (s *Manager) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.m.StreamActive.Store(0)
}

// Active reports whether the pipeline may continue.
func (s *Manager) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Extend resets the keep-alive counter. This is the only externally
// triggered stream-state mutation outside the pipeline.
func (s *Manager) Extend(seconds int) {
	s.mu.Lock()
	s.keepAlive = seconds
	s.mu.Unlock()
	s.m.KeepAliveSeconds.Store(uint64(seconds))
}

// LatestPair returns the most recent processed frame and its detections.
func (s *Manager) LatestPair() (*types.Frame, detect.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestFrame == nil {
		return nil, detect.Set{}, false
	}
	return s.latestFrame, s.latestSet, true
}

// VisibleDetections returns the externally visible latest detections; the
// view is cleared once the detection timeout elapses with no new ones.
func (s *Manager) VisibleDetections() []detect.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]detect.Detection, len(s.visibleDetections))
	copy(out, s.visibleDetections)
	return out
}

// Status returns a snapshot of the stream state.
func (s *Manager) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:            s.active,
		ReconnectAttempts: s.reconnectAttempts,
		KeepAlive:         s.keepAlive,
		LastDetection:     s.lastDetection,
		HistoryLen:        s.history.Len(),
		QueueLen:          s.dist.Len(),
	}
}

// run is the connection state machine: connect, stream until a connection
// error, then reconnect with a fixed delay up to the bounded attempt count.
func (s *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() { _ = s.source.Close() }()

	for s.Active() && ctx.Err() == nil {
		openCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		err := s.source.Open(openCtx)
		cancel()
		if err != nil {
			logger.Error("Stream", "Connection failed: %v", err)
			if !s.retryAfterFailure(ctx) {
				return
			}
			continue
		}

		logger.Info("Stream", "Connected to video source")
		streamErr := s.streamLoop(ctx)
		_ = s.source.Close()

		if streamErr == nil || !s.Active() || ctx.Err() != nil {
			return
		}
		logger.Error("Stream", "Stream error: %v", streamErr)
		if !s.retryAfterFailure(ctx) {
			return
		}
	}
}

// retryAfterFailure counts a consecutive connection failure and waits the
// fixed reconnect delay. Returns false once the bound is exceeded, which is
// terminal for the stream.
func (s *Manager) retryAfterFailure(ctx context.Context) bool {
	s.mu.Lock()
	s.reconnectAttempts++
	attempts := s.reconnectAttempts
	s.mu.Unlock()
	s.m.Reconnects.Add(1)

	if attempts > s.cfg.MaxReconnectAttempts {
		logger.Error("Stream", "Max reconnection attempts reached (%d), stopping stream", s.cfg.MaxReconnectAttempts)
		s.mu.Lock()
		s.active = false
		cancel := s.cancel
		s.mu.Unlock()
		s.m.StreamActive.Store(0)
		if cancel != nil {
			cancel()
		}
		return false
	}

	logger.Info("Stream", "Attempting to reconnect (attempt %d/%d)...", attempts, s.cfg.MaxReconnectAttempts)
	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamLoop runs processing cycles until the stream deactivates (nil
// return) or the connection fails (non-nil error, escalated to reconnect).
func (s *Manager) streamLoop(ctx context.Context) error {
	for s.Active() && ctx.Err() == nil {
		frame, err := s.source.Read()
		if err != nil {
			if errors.Is(err, capture.ErrNoFrame) {
				// Transient decode miss, not a connection failure.
				sleepCtx(ctx, s.cfg.MissRetryDelay)
				continue
			}
			s.m.ReadErrors.Add(1)
			return err
		}

		// A successful read clears the consecutive-failure count.
		s.mu.Lock()
		s.reconnectAttempts = 0
		s.mu.Unlock()
		s.m.FramesRead.Add(1)
		s.m.UpdateFrameLatency(frame.Timestamp)

		s.processCycle(ctx, frame)
		sleepCtx(ctx, s.cfg.CycleYield)
	}
	return nil
}

// processCycle runs one frame through resize, detection, publication,
// history upkeep and distribution. Errors skip the cycle, never the stream.
func (s *Manager) processCycle(ctx context.Context, frame *types.Frame) {
	processed := resizeToWidth(frame.Image, s.cfg.TargetWidth)

	detectStart := time.Now()
	detections, err := s.detector.Detect(ctx, processed)
	if err != nil {
		s.m.DetectErrors.Add(1)
		logger.Warn("Stream", "Detector error on frame %d: %v", frame.Number, err)
		return
	}
	s.m.UpdateDetectLatency(time.Since(detectStart))

	set := detect.NewSet(detections, frame.Timestamp)
	processedFrame := &types.Frame{
		Image:     processed,
		Timestamp: frame.Timestamp,
		Number:    frame.Number,
	}

	now := s.now()

	s.mu.Lock()
	s.latestFrame = processedFrame
	s.latestSet = set
	if !set.Empty() {
		s.visibleDetections = set.Detections
		s.lastDetection = now
	} else if !s.lastDetection.IsZero() && now.Sub(s.lastDetection) > s.cfg.DetectionTimeout {
		// Detections disappeared for long enough: clear the visible view.
		// The engine's retained best frame is its own concern.
		s.visibleDetections = nil
		s.lastDetection = time.Time{}
	}
	s.mu.Unlock()

	if !set.Empty() {
		s.m.DetectionSets.Add(1)
		s.history.RecordEpisode(now, set)
		s.engine.Process(ctx, processed, set)
	}

	s.history.Evict(now)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, processed, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		s.m.EncodeErrors.Add(1)
		logger.Warn("Stream", "Failed to encode frame %d: %v", frame.Number, err)
		return
	}

	if s.dist.Put(buf.Bytes()) {
		s.m.FramesDropped.Add(1)
	}
	s.m.FramesProcessed.Add(1)
	s.m.UpdateQueueUsage(s.dist.Len(), s.dist.Cap())
}

// monitorActivity decrements the keep-alive budget once per second and
// stops the pipeline when it reaches zero.
func (s *Manager) monitorActivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.active {
				s.mu.Unlock()
				return
			}
			s.keepAlive--
			remaining := s.keepAlive
			s.mu.Unlock()

			if remaining >= 0 {
				s.m.KeepAliveSeconds.Store(uint64(remaining))
			} else {
				s.m.KeepAliveSeconds.Store(0)
			}

			if remaining <= 0 {
				logger.Info("Stream", "Keep-alive counter expired, stopping stream")
				s.Stop()
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
