package models

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one decoded JPEG sample from a camera stream. Frames are
// ephemeral: each pipeline stage may read Data during its call but must
// not retain it past the stage boundary.
type Frame struct {
	CameraID  uuid.UUID
	Seq       uint64
	Timestamp time.Time
	Data      []byte // JPEG bytes
}

// BoundingBox is x1, y1, x2, y2 in pixel coordinates.
type BoundingBox [4]float32

// Object is one detected object within a frame.
type Object struct {
	Label      string      `json:"label"`
	Confidence float32     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// Detection is the structured output of the detection backend for one
// frame. Immutable once produced.
type Detection struct {
	CameraID  uuid.UUID `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameSeq  uint64    `json:"frame_seq"`
	Objects   []Object  `json:"objects"`
}
