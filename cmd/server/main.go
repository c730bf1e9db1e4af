package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/api"
	"github.com/ctmphuongg/weapon-detection-app/internal/capture"
	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
	"github.com/ctmphuongg/weapon-detection-app/internal/logger"
	"github.com/ctmphuongg/weapon-detection-app/internal/metrics"
	"github.com/ctmphuongg/weapon-detection-app/internal/notify"
	"github.com/ctmphuongg/weapon-detection-app/internal/storage"
	"github.com/ctmphuongg/weapon-detection-app/internal/stream"
)

var (
	// Command-line flags (env fallbacks for deployment secrets)
	rtspURL        = flag.String("rtsp", envOr("RTSP_URL", ""), "RTSP stream URL")
	httpAddr       = flag.String("http", ":8000", "HTTP server address")
	metricsAddr    = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr      = flag.String("pprof", ":6060", "pprof server address")
	detectorURL    = flag.String("detector", envOr("DETECTOR_ENDPOINT", "http://localhost:8500/detect"), "Inference endpoint URL")
	notifyURL      = flag.String("notify", envOr("NOTIFICATION_API_ENDPOINT", ""), "Notification endpoint URL")
	locationID     = flag.Int("location-id", 1, "Location ID sent with alerts")
	cameraID       = flag.Int("camera-id", 1, "Camera ID sent with alerts")
	saveMode       = flag.String("save-mode", envOr("SAVE_MODE", "local"), "Snapshot save mode (local or s3)")
	saveDir        = flag.String("save-dir", envOr("LOCAL_SAVE_DIR", "saved_images"), "Local snapshot directory")
	s3Bucket       = flag.String("s3-bucket", envOr("S3_BUCKET_NAME", ""), "S3 bucket for snapshots")
	s3Region       = flag.String("s3-region", envOr("S3_REGION", "us-east-1"), "S3 region for snapshots")
	targetWidth    = flag.Int("width", 680, "Processed frame width")
	queueCapacity  = flag.Int("queue", stream.DefaultQueueCapacity, "Frame distributor capacity")
	autoStart      = flag.Bool("auto-start", true, "Start the stream on boot")
	startKeepAlive = flag.Int("start-keep-alive", 1000000, "Initial keep-alive budget when auto-starting")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor       = flag.Bool("log-color", true, "Enable colored log output")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Weapon detection server starting...")
	logger.Info("Main", "Log level: %s", level)

	if *rtspURL == "" {
		log.Fatal("RTSP URL is required (-rtsp flag or RTSP_URL env)")
	}

	m := metrics.New()

	source := capture.NewRTSPSource(*rtspURL)
	detector := detect.NewHTTPDetector(*detectorURL, 10*time.Second)
	notifier := notify.NewHTTPNotifier(10 * time.Second)
	engine := notify.NewEngine(notify.DefaultConfig(*notifyURL), notifier, m, *locationID, *cameraID)

	streamCfg := stream.DefaultConfig()
	streamCfg.TargetWidth = *targetWidth
	streamCfg.QueueCapacity = *queueCapacity
	manager := stream.NewManager(streamCfg, source, detector, engine, m)

	saver, err := buildSaver()
	if err != nil {
		log.Fatalf("Failed to configure snapshot storage: %v", err)
	}

	apiServer := api.NewServer(api.DefaultConfig(), manager, engine, saver, m)
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: apiServer.Handler(),
	}

	// pprof server
	go func() {
		logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()

	// Metrics server
	go func() {
		logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
		if err := m.StartServer(*metricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	// HTTP server
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if *autoStart {
		manager.Extend(*startKeepAlive)
		manager.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

func buildSaver() (storage.Saver, error) {
	local, err := storage.NewLocal(*saveDir)
	if err != nil {
		return nil, err
	}
	if *saveMode != "s3" {
		return local, nil
	}
	return storage.NewS3(context.Background(), *s3Bucket, *s3Region, local)
}
