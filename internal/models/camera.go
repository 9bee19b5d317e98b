package models

import (
	"time"

	"github.com/google/uuid"
)

type CameraState string

const (
	CameraDisconnected CameraState = "disconnected"
	CameraConnecting   CameraState = "connecting"
	CameraStreaming    CameraState = "streaming"
	CameraBackoff      CameraState = "backoff"
)

// Camera is the registry entry for one stream source. Runtime state
// (State, LastFrameAt, counters) is owned exclusively by the supervising
// goroutine; other components observe it through snapshots.
type Camera struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	URI          string      `json:"uri" db:"uri"`
	Enabled      bool        `json:"enabled" db:"enabled"`
	State        CameraState `json:"state"`
	LastFrameAt  time.Time   `json:"last_frame_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// CameraHealth is a point-in-time health report for one camera,
// published whenever the supervisor changes its state.
type CameraHealth struct {
	CameraID            uuid.UUID   `json:"camera_id"`
	State               CameraState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastError           string      `json:"last_error,omitempty"`
	LastFrameAt         time.Time   `json:"last_frame_at,omitempty"`
	FramesIngested      uint64      `json:"frames_ingested"`
	FPS                 float64     `json:"fps"`
}
