package models

import (
	"time"

	"github.com/google/uuid"
)

type ActivityKind string

const (
	ActivityStarted ActivityKind = "started"
	ActivityOngoing ActivityKind = "ongoing"
	ActivityEnded   ActivityKind = "ended"
)

type TriggerReason string

const (
	ReasonMotion    TriggerReason = "motion"
	ReasonDetection TriggerReason = "detection"
)

// ActivityEvent marks the start, continuation, or end of one activity
// episode on a camera. Produced only by the trigger state machine;
// Started and Ended alternate strictly per camera.
type ActivityEvent struct {
	CameraID      uuid.UUID     `json:"camera_id"`
	Kind          ActivityKind  `json:"kind"`
	Reason        TriggerReason `json:"reason"`
	Label         string        `json:"label,omitempty"` // matched class for detection triggers
	StartTime     time.Time     `json:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty"` // set on Ended only
	FailureReason string        `json:"failure_reason,omitempty"`
}
