package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/nvr/internal/api/handlers"
	"github.com/your-org/nvr/internal/api/ws"
	"github.com/your-org/nvr/internal/auth"
	"github.com/your-org/nvr/internal/camera"
	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/recorder"
	"github.com/your-org/nvr/internal/storage"
)

type RouterConfig struct {
	APIKey     string
	DB         storage.Store
	Archive    *storage.SegmentArchive // nil disables archive-backed downloads
	Bus        *eventbus.Bus
	Recorder   *recorder.Manager
	Supervisor *camera.Supervisor
	Gateway    *ws.Gateway
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Archive, cfg.Bus, cfg.Supervisor)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket event stream
	v1.GET("/ws", cfg.Gateway.HandleWS)

	v1.GET("/status", systemH.Status)

	// Cameras
	cameraH := handlers.NewCameraHandler(cfg.DB, cfg.Supervisor)
	v1.POST("/cameras", cameraH.Create)
	v1.GET("/cameras", cameraH.List)
	v1.GET("/cameras/:id", cameraH.Get)
	v1.PATCH("/cameras/:id", cameraH.Update)
	v1.POST("/cameras/:id/start", cameraH.Start)
	v1.POST("/cameras/:id/stop", cameraH.Stop)
	v1.DELETE("/cameras/:id", cameraH.Delete)

	// Recordings
	recH := handlers.NewRecordingHandler(cfg.Recorder, cfg.Archive)
	v1.GET("/recordings", recH.List)
	v1.GET("/recordings/:id", recH.Get)
	v1.GET("/recordings/:id/download", recH.Download)
	v1.GET("/storage", recH.StorageInfo)

	return r
}
