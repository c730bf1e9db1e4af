package notify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
	"github.com/ctmphuongg/weapon-detection-app/internal/logger"
	"github.com/ctmphuongg/weapon-detection-app/internal/metrics"
)

// Config holds the alerting policy. Changes take effect on the next
// decision cycle; cooldown and window durations are expressed in seconds to
// match the configuration API wire shape.
type Config struct {
	ConfidenceThreshold         float64 `json:"confidence_threshold"`
	CooldownPeriod              int     `json:"cooldown_period"`
	ConfidenceIncreaseThreshold float64 `json:"confidence_increase_threshold"`
	BestImageWindow             int     `json:"best_image_window"`
	Endpoint                    string  `json:"api_endpoint"`
}

// DefaultConfig mirrors the production alerting defaults.
func DefaultConfig(endpoint string) Config {
	return Config{
		ConfidenceThreshold:         0.60,
		CooldownPeriod:              300, // 5 minutes
		ConfidenceIncreaseThreshold: 0.10,
		BestImageWindow:             3,
		Endpoint:                    endpoint,
	}
}

// Validate rejects configurations the engine cannot apply.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.ConfidenceIncreaseThreshold < 0 || c.ConfidenceIncreaseThreshold > 1 {
		return fmt.Errorf("confidence_increase_threshold must be in [0,1], got %v", c.ConfidenceIncreaseThreshold)
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period must be >= 0, got %d", c.CooldownPeriod)
	}
	if c.BestImageWindow <= 0 {
		return fmt.Errorf("best_image_window must be > 0, got %d", c.BestImageWindow)
	}
	return nil
}

// Engine decides when to dispatch an alert and with which frame. It holds
// the cooldown state of the last successful send and, while capturing, the
// best frame/detections pair seen inside the window.
type Engine struct {
	notifier   Notifier
	m          *metrics.Metrics
	locationID int
	cameraID   int
	now        func() time.Time

	mu  sync.Mutex
	cfg Config

	// Cooldown state, updated only on a successful dispatch.
	lastSent       time.Time
	lastCategory   string
	lastCount      int
	lastConfidence float64

	// Capture window state.
	capturing    bool
	captureStart time.Time
	bestFrame    image.Image
	bestSet      detect.Set
}

// NewEngine creates an engine with the given policy and alert sink.
func NewEngine(cfg Config, notifier Notifier, m *metrics.Metrics, locationID, cameraID int) *Engine {
	return &Engine{
		notifier:   notifier,
		m:          m,
		locationID: locationID,
		cameraID:   cameraID,
		now:        time.Now,
		cfg:        cfg,
	}
}

// Configure replaces the alerting policy. Effective on the next decision.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	logger.Info("Notify", "Configuration updated: threshold=%.2f cooldown=%ds window=%ds", cfg.ConfidenceThreshold, cfg.CooldownPeriod, cfg.BestImageWindow)
	return nil
}

// Config returns the current policy.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Process examines one frame/detections pair and returns whether an alert
// was dispatched successfully. DetectionSets must arrive in pipeline order.
func (e *Engine) Process(ctx context.Context, frame image.Image, set detect.Set) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	qualified := set.AboveThreshold(e.cfg.ConfidenceThreshold)
	if qualified.Empty() {
		return false
	}

	conf := qualified.MaxConfidence()
	categories := qualified.Categories()
	dominant := qualified.Dominant()

	if !e.capturing {
		if e.shouldStartCapture(now, conf, categories, dominant) {
			e.capturing = true
			e.captureStart = now
			e.bestFrame = frame
			e.bestSet = qualified
			logger.Debug("Notify", "Capture window opened (confidence=%.2f, category=%s)", conf, dominant)
		}
		return false
	}

	// Inside the window the incoming set competes for best, including the
	// one that closes the window.
	if e.betterThanBest(conf, categories) {
		e.bestFrame = frame
		e.bestSet = qualified
	}

	if now.Sub(e.captureStart) >= time.Duration(e.cfg.BestImageWindow)*time.Second {
		e.capturing = false
		return e.dispatchLocked(ctx)
	}
	return false
}

// shouldStartCapture implements the admission gate: outside cooldown any
// qualifying confidence opens a window; inside cooldown one of the override
// exceptions must hold.
func (e *Engine) shouldStartCapture(now time.Time, conf float64, categories int, dominant string) bool {
	cooldown := time.Duration(e.cfg.CooldownPeriod) * time.Second
	if !e.lastSent.IsZero() && now.Sub(e.lastSent) < cooldown {
		if dominant != e.lastCategory {
			return true
		}
		if categories != e.lastCount {
			return true
		}
		if conf-e.lastConfidence >= e.cfg.ConfidenceIncreaseThreshold {
			return true
		}
		return false
	}
	return conf >= e.cfg.ConfidenceThreshold
}

// betterThanBest ranks a candidate against the retained best: higher max
// confidence wins outright, a tie is broken by more distinct categories.
func (e *Engine) betterThanBest(conf float64, categories int) bool {
	if e.bestFrame == nil {
		return true
	}
	bestConf := e.bestSet.MaxConfidence()
	if conf > bestConf {
		return true
	}
	if conf == bestConf && categories > e.bestSet.Categories() {
		return true
	}
	return false
}

// ForceDispatch sends an alert immediately, bypassing the cooldown gate. It
// uses the retained best pair when one is held, otherwise the provided
// latest frame and detections.
func (e *Engine) ForceDispatch(ctx context.Context, frame image.Image, set detect.Set) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bestFrame == nil {
		if frame == nil {
			return fmt.Errorf("no frame available to dispatch")
		}
		e.bestFrame = frame
		e.bestSet = set
	}
	e.capturing = false
	if !e.dispatchLocked(ctx) {
		return fmt.Errorf("notification dispatch failed")
	}
	return nil
}

// Capturing reports whether a capture window is open.
func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}

// dispatchLocked attempts delivery of the retained best pair. Only a
// successful send mutates the cooldown state; on failure the stale best
// data remains until the next capture cycle overwrites it.
func (e *Engine) dispatchLocked(ctx context.Context) bool {
	if e.bestFrame == nil {
		return false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, e.bestFrame, &jpeg.Options{Quality: 90}); err != nil {
		logger.Error("Notify", "Failed to encode alert frame: %v", err)
		e.m.NotificationsFailed.Add(1)
		return false
	}

	alert := Alert{
		Endpoint:   e.cfg.Endpoint,
		Image:      buf.Bytes(),
		Detections: e.bestSet,
		LocationID: e.locationID,
		CameraID:   e.cameraID,
		Timestamp:  e.now(),
	}
	if err := e.notifier.Send(ctx, alert); err != nil {
		logger.Warn("Notify", "Dispatch failed: %v", err)
		e.m.NotificationsFailed.Add(1)
		return false
	}

	e.lastSent = e.now()
	e.lastCategory = e.bestSet.Dominant()
	e.lastCount = e.bestSet.Categories()
	e.lastConfidence = e.bestSet.MaxConfidence()
	e.bestFrame = nil
	e.bestSet = detect.Set{}
	e.m.NotificationsSent.Add(1)
	logger.Info("Notify", "Alert dispatched (category=%s, confidence=%.2f)", e.lastCategory, e.lastConfidence)
	return true
}
