package dto

import "github.com/google/uuid"

type CreateCameraRequest struct {
	Name    string `json:"name" binding:"required"`
	URI     string `json:"uri" binding:"required"`
	Enabled *bool  `json:"enabled,omitempty"` // default true
}

type UpdateCameraRequest struct {
	Name    *string `json:"name,omitempty"`
	URI     *string `json:"uri,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

type CameraResponse struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	URI                 string    `json:"uri"`
	Enabled             bool      `json:"enabled"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastFrameAt         string    `json:"last_frame_at,omitempty"`
	FramesIngested      uint64    `json:"frames_ingested"`
	FPS                 float64   `json:"fps"`
	CreatedAt           string    `json:"created_at"`
	UpdatedAt           string    `json:"updated_at"`
}

type CameraListResponse struct {
	Cameras []CameraResponse `json:"cameras"`
	Total   int              `json:"total"`
}
