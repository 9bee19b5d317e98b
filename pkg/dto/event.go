package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// WSEvent is a WebSocket message for real-time event delivery. Data
// holds the payload matching Type: detection, activity, session, or
// health. A dropped message carries the number of events lost to a slow
// connection instead of a payload.
type WSEvent struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"` // detection, activity, session, health, dropped
	CameraID  uuid.UUID       `json:"camera_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Dropped   uint64          `json:"dropped,omitempty"`
}
