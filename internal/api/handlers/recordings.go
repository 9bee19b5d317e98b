package handlers

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
	"github.com/your-org/nvr/internal/recorder"
	"github.com/your-org/nvr/internal/storage"
	"github.com/your-org/nvr/pkg/dto"
)

type RecordingHandler struct {
	rec     *recorder.Manager
	archive *storage.SegmentArchive // nil when archival is disabled
}

func NewRecordingHandler(rec *recorder.Manager, archive *storage.SegmentArchive) *RecordingHandler {
	return &RecordingHandler{rec: rec, archive: archive}
}

func (h *RecordingHandler) List(c *gin.Context) {
	var q dto.RecordingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cameraID *uuid.UUID
	if q.CameraID != "" {
		id, err := uuid.Parse(q.CameraID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
			return
		}
		cameraID = &id
	}

	all := h.rec.Sessions(cameraID)
	total := len(all)

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	resp := make([]dto.RecordingResponse, 0, end-offset)
	for _, s := range all[offset:end] {
		resp = append(resp, sessionToResponse(s))
	}
	c.JSON(http.StatusOK, dto.RecordingListResponse{Recordings: resp, Total: total})
}

func (h *RecordingHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	s, ok := h.rec.Session(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(s))
}

// Download streams the raw segment file. Open sessions cannot be
// downloaded; evicted ones are served from the archive when configured.
func (h *RecordingHandler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	s, ok := h.rec.Session(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
		return
	}
	if s.Status == models.SessionOpen {
		c.JSON(http.StatusConflict, gin.H{"error": "recording still in progress"})
		return
	}

	filename := s.ID.String() + ".nvr"

	if f, err := os.Open(s.Path); err == nil {
		defer f.Close()
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)
		io.Copy(c.Writer, f)
		return
	}

	if h.archive != nil {
		obj, err := h.archive.Fetch(c.Request.Context(), &s)
		if err == nil {
			defer obj.Close()
			c.Header("Content-Disposition", "attachment; filename="+filename)
			c.Header("Content-Type", "application/octet-stream")
			c.Status(http.StatusOK)
			io.Copy(c.Writer, obj)
			return
		}
	}

	c.JSON(http.StatusGone, gin.H{"error": "recording data no longer available"})
}

func (h *RecordingHandler) StorageInfo(c *gin.Context) {
	used, quota := h.rec.Usage()
	resp := dto.StorageInfoResponse{UsedBytes: used, QuotaBytes: quota}
	if quota > 0 {
		resp.UsedFraction = float64(used) / float64(quota)
	}
	c.JSON(http.StatusOK, resp)
}

func sessionToResponse(s models.RecordingSession) dto.RecordingResponse {
	resp := dto.RecordingResponse{
		ID:            s.ID,
		CameraID:      s.CameraID,
		StartTime:     s.StartTime.UTC().Format(time.RFC3339Nano),
		Bytes:         s.Bytes,
		Frames:        s.Frames,
		Status:        string(s.Status),
		FailureReason: s.FailureReason,
	}
	if s.EndTime != nil {
		resp.EndTime = s.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return resp
}
