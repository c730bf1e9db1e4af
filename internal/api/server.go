package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/logger"
	"github.com/ctmphuongg/weapon-detection-app/internal/metrics"
	"github.com/ctmphuongg/weapon-detection-app/internal/notify"
	"github.com/ctmphuongg/weapon-detection-app/internal/storage"
	"github.com/ctmphuongg/weapon-detection-app/internal/stream"
)

// Config defines the HTTP surface configuration.
type Config struct {
	KeepAliveReset int           // Counter value applied by /video/keep-alive
	ViewerTimeout  time.Duration // Queue wait before a viewer re-checks liveness
	SnapshotJPEG   int           // Encode quality for persisted snapshots
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KeepAliveReset: 100,
		ViewerTimeout:  5 * time.Second,
		SnapshotJPEG:   90,
	}
}

// Server serves the stream, notification and liveness endpoints.
type Server struct {
	cfg     Config
	manager *stream.Manager
	engine  *notify.Engine
	saver   storage.Saver
	m       *metrics.Metrics
}

// NewServer returns a configured API server.
func NewServer(cfg Config, manager *stream.Manager, engine *notify.Engine, saver storage.Saver, m *metrics.Metrics) *Server {
	if cfg.KeepAliveReset <= 0 {
		cfg.KeepAliveReset = DefaultConfig().KeepAliveReset
	}
	if cfg.ViewerTimeout <= 0 {
		cfg.ViewerTimeout = DefaultConfig().ViewerTimeout
	}
	if cfg.SnapshotJPEG <= 0 {
		cfg.SnapshotJPEG = DefaultConfig().SnapshotJPEG
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		engine:  engine,
		saver:   saver,
		m:       m,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/video/", s.handleVideoFeed)
	mux.HandleFunc("/video/keep-alive", s.handleKeepAlive)
	mux.HandleFunc("/latest-detections", s.handleLatestDetections)
	mux.HandleFunc("/stream/status", s.handleStreamStatus)
	mux.HandleFunc("/stream/snapshot", s.handleSnapshot)
	mux.HandleFunc("/notifications/config", s.handleNotificationConfig)
	mux.HandleFunc("/notifications/trigger", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// handleVideoFeed streams MJPEG frames from the shared distributor until the
// stream deactivates or the viewer disconnects.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/video/" {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.manager.Start()

	s.m.ActiveViewers.Add(1)
	s.m.TotalViewers.Add(1)
	defer func() {
		s.m.ActiveViewers.Add(^uint64(0))
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	dist := s.manager.Distributor()
	for {
		data, ok := dist.Next(r.Context(), s.cfg.ViewerTimeout)
		if !ok {
			if r.Context().Err() != nil {
				logger.Debug("MJPEG", "Viewer disconnected")
				return
			}
			// No frame within the timeout: wait again only while live.
			if !s.manager.Active() {
				return
			}
			continue
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Viewer disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(data); err != nil {
			logger.Debug("MJPEG", "Viewer disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Viewer disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	s.manager.Extend(s.cfg.KeepAliveReset)
	s.manager.Start()
	writeJSON(w, map[string]any{
		"status":     "ok",
		"is_running": s.manager.Active(),
	})
}

func (s *Server) handleLatestDetections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"detections": s.manager.VisibleDetections(),
	})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	status := s.manager.Status()
	writeJSON(w, map[string]any{
		"stream":            status,
		"detection_history": s.manager.History().Entries(),
		"timestamp":         float64(time.Now().Unix()),
	})
}

// handleSnapshot returns the latest processed frame's detections, persisting
// the frame through the configured saver.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, set, ok := s.manager.LatestPair()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: s.cfg.SnapshotJPEG}); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "failed to encode frame"}, http.StatusInternalServerError)
		return
	}

	path, err := s.saver.Save(r.Context(), buf.Bytes())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"detections":   set.Detections,
		"image_path":   path,
		"frame_number": frame.Number,
		"timestamp":    float64(frame.Timestamp.Unix()),
	})
}

func (s *Server) handleNotificationConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.engine.Config())
	case http.MethodPost:
		var cfg notify.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid configuration payload"}, http.StatusBadRequest)
			return
		}
		if err := s.engine.Configure(cfg); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"config": cfg,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTrigger dispatches a notification immediately, bypassing the
// cooldown gate, using the retained best or the latest frame.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame, set, ok := s.manager.LatestPair()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusNotFound)
		return
	}

	if err := s.engine.ForceDispatch(r.Context(), frame.Image, set); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{
		"status":  "success",
		"message": "Notification sent successfully",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"active":      s.manager.Active(),
		"viewers":     s.m.ActiveViewers.Load(),
		"queue_len":   s.manager.Distributor().Len(),
		"history_len": s.manager.History().Len(),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
