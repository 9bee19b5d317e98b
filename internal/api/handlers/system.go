package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/nvr/internal/camera"
	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/storage"
)

type SystemHandler struct {
	db      storage.Store
	archive *storage.SegmentArchive // nil when archival is disabled
	bus     *eventbus.Bus
	sup     *camera.Supervisor
}

func NewSystemHandler(db storage.Store, archive *storage.SegmentArchive, bus *eventbus.Bus, sup *camera.Supervisor) *SystemHandler {
	return &SystemHandler{db: db, archive: archive, bus: bus, sup: sup}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if h.archive != nil {
		if err := h.archive.Ping(ctx); err != nil {
			checks["minio"] = err.Error()
			healthy = false
		} else {
			checks["minio"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Status reports live camera health and bus throughput.
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cameras":          h.sup.HealthAll(),
		"events_published": h.bus.Published(),
		"subscribers":      h.bus.Subscribers(),
	})
}
