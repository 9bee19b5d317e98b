package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/nvr/internal/api"
	"github.com/your-org/nvr/internal/api/ws"
	"github.com/your-org/nvr/internal/camera"
	"github.com/your-org/nvr/internal/config"
	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/observability"
	"github.com/your-org/nvr/internal/queue"
	"github.com/your-org/nvr/internal/recorder"
	"github.com/your-org/nvr/internal/storage"
	"github.com/your-org/nvr/internal/trigger"
	"github.com/your-org/nvr/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting NVR daemon", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registry store: Postgres when configured, in-process otherwise.
	var db storage.Store
	if cfg.Database.Host != "" {
		pg, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		db = pg
	} else {
		slog.Warn("no database configured, camera registry will not survive restarts")
		db = storage.NewMemoryStore()
	}
	defer db.Close()

	// Segment archive (optional).
	var archive *storage.SegmentArchive
	if cfg.MinIO.Endpoint != "" {
		archive, err = storage.NewSegmentArchive(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
	}

	bus := eventbus.New(cfg.Events.SubscriberQueue)
	defer bus.Close()

	var archiver recorder.Archiver
	if archive != nil {
		archiver = archive
	}
	rec, err := recorder.NewManager(recorder.Config{
		Dir:           cfg.Recording.Dir,
		QuotaBytes:    cfg.Recording.QuotaBytes,
		ReserveBytes:  cfg.Recording.ReserveBytes,
		RetentionDays: cfg.Recording.RetentionDays,
		CleanupEvery:  cfg.Recording.CleanupEvery,
	}, bus, db, archiver)
	if err != nil {
		slog.Error("init recorder", "error", err)
		os.Exit(1)
	}
	if err := rec.Recover(ctx); err != nil {
		slog.Warn("recover recordings", "error", err)
	}
	go rec.Run(ctx)

	// Detection backend (optional).
	var detector vision.Detector
	if cfg.Detection.Backend == "onnx" {
		ort.SetSharedLibraryPath(onnxLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			slog.Warn("onnx runtime init failed, running without detection", "error", err)
		} else {
			defer ort.DestroyEnvironment()
			d, err := vision.NewONNXDetector(
				cfg.Detection.ModelPath,
				cfg.Detection.Labels,
				float32(cfg.Detection.Threshold),
				nil,
			)
			if err != nil {
				slog.Warn("load detection model, running without detection", "error", err)
			} else {
				detector = d
				defer d.Close()
				slog.Info("detection model loaded", "model", cfg.Detection.ModelPath)
			}
		}
	}
	adapter := vision.NewAdapter(detector, vision.AdapterConfig{
		SampleInterval: cfg.Detection.SampleInterval,
		MaxConcurrent:  cfg.Detection.MaxConcurrent,
		Timeout:        cfg.Detection.Timeout,
		QueueTimeout:   cfg.Detection.QueueTimeout,
	})

	sup := camera.NewSupervisor(camera.SupervisorConfig{
		Backoff: camera.BackoffConfig{
			Base:           cfg.Backoff.Base,
			Multiplier:     cfg.Backoff.Multiplier,
			Cap:            cfg.Backoff.Cap,
			MaxConsecutive: cfg.Backoff.MaxConsecutive,
		},
		Trigger: trigger.Config{
			Cooldown:          cfg.Trigger.Cooldown,
			PostRoll:          cfg.Trigger.PostRoll,
			ClassesOfInterest: cfg.Detection.ClassesOfInterest,
		},
		Motion: vision.MotionConfig{
			Sensitivity: cfg.Motion.Sensitivity,
			GridSize:    cfg.Motion.GridSize,
		},
		MotionEnabled: cfg.Motion.Enabled,
	}, bus, rec, adapter, nil)

	// Supervise everything already registered.
	cams, err := db.ListCameras(ctx)
	if err != nil {
		slog.Error("list cameras", "error", err)
		os.Exit(1)
	}
	for _, cam := range cams {
		if err := sup.Add(cam); err != nil {
			slog.Error("supervise camera", "camera_id", cam.ID, "error", err)
		}
	}
	slog.Info("cameras supervised", "count", len(cams))

	// NATS event mirror (optional).
	if cfg.NATS.URL != "" {
		mirror, err := queue.NewMirror(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		if err := mirror.EnsureStream(ctx); err != nil {
			slog.Warn("ensure nats stream", "error", err)
		}
		go func() {
			if err := mirror.Run(ctx, bus); err != nil {
				slog.Error("event mirror stopped", "error", err)
			}
		}()
	}

	gateway := ws.NewGateway(bus, cfg.Events.SubscriberQueue)

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		DB:         db,
		Archive:    archive,
		Bus:        bus,
		Recorder:   rec,
		Supervisor: sup,
		Gateway:    gateway,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	sup.Shutdown(shutdownCtx)
	rec.CloseAll(shutdownCtx)

	slog.Info("NVR daemon stopped")
}

// onnxLibPath returns the ONNX Runtime shared library path.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
