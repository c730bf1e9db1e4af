package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64

	// Error counters
	ReadErrors   atomic.Uint64
	DetectErrors atomic.Uint64
	EncodeErrors atomic.Uint64
	Reconnects   atomic.Uint64

	// Detection / notification counters
	DetectionSets       atomic.Uint64
	NotificationsSent   atomic.Uint64
	NotificationsFailed atomic.Uint64

	// Latency tracking
	FrameLatencyMs  atomic.Uint64 // Average frame latency in ms
	DetectLatencyMs atomic.Uint64 // Average inference latency in ms

	// Distribution queue
	QueueUsage atomic.Uint64 // Percentage (0-100)

	// Viewer tracking
	ActiveViewers atomic.Uint64
	TotalViewers  atomic.Uint64

	// Stream state
	StreamActive     atomic.Uint64 // 0 = inactive, 1 = active
	KeepAliveSeconds atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"detection_frames_read_total", "Total frames read from the video source", m.FramesRead.Load},
		{"detection_frames_processed_total", "Total frames processed through the pipeline", m.FramesProcessed.Load},
		{"detection_frames_dropped_total", "Total frames dropped by the distributor", m.FramesDropped.Load},
		{"detection_read_errors_total", "Total source read errors", m.ReadErrors.Load},
		{"detection_detect_errors_total", "Total detector errors", m.DetectErrors.Load},
		{"detection_encode_errors_total", "Total frame encode errors", m.EncodeErrors.Load},
		{"detection_reconnects_total", "Total stream reconnect attempts", m.Reconnects.Load},
		{"detection_sets_total", "Total non-empty detection sets observed", m.DetectionSets.Load},
		{"detection_notifications_sent_total", "Total alerts dispatched successfully", m.NotificationsSent.Load},
		{"detection_notifications_failed_total", "Total alert dispatch failures", m.NotificationsFailed.Load},
		{"detection_frame_latency_ms", "Average frame latency in milliseconds", m.FrameLatencyMs.Load},
		{"detection_detect_latency_ms", "Average inference latency in milliseconds", m.DetectLatencyMs.Load},
		{"detection_queue_usage_percent", "Frame distributor usage percentage", m.QueueUsage.Load},
		{"detection_active_viewers", "Number of connected viewer sessions", m.ActiveViewers.Load},
		{"detection_total_viewers", "Total viewer sessions served", m.TotalViewers.Load},
		{"detection_stream_active", "Stream active (0=inactive, 1=active)", m.StreamActive.Load},
		{"detection_keep_alive_seconds", "Remaining keep-alive budget in seconds", m.KeepAliveSeconds.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateFrameLatency updates the average frame latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateDetectLatency updates the average inference latency
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateQueueUsage updates the distributor usage percentage
func (m *Metrics) UpdateQueueUsage(used, capacity int) {
	if capacity > 0 {
		m.QueueUsage.Store(uint64(used * 100 / capacity))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
