package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionOpen    SessionStatus = "open"
	SessionClosed  SessionStatus = "closed"
	SessionFailed  SessionStatus = "failed"
	SessionEvicted SessionStatus = "evicted"
)

// RecordingSession is the lifecycle of one recorded container file for
// one activity episode. At most one session is Open per camera at any
// instant.
type RecordingSession struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	CameraID      uuid.UUID     `json:"camera_id" db:"camera_id"`
	Path          string        `json:"path" db:"path"`
	StartTime     time.Time     `json:"start_time" db:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty" db:"end_time"` // nil while open
	Bytes         int64         `json:"bytes" db:"bytes"`
	Frames        int64         `json:"frames" db:"frames"`
	Status        SessionStatus `json:"status" db:"status"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	Archived      bool          `json:"archived,omitempty"` // uploaded and local copy removed
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
