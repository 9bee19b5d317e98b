package dto

import "github.com/google/uuid"

type RecordingResponse struct {
	ID            uuid.UUID `json:"id"`
	CameraID      uuid.UUID `json:"camera_id"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time,omitempty"`
	Bytes         int64     `json:"bytes"`
	Frames        int64     `json:"frames"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

type RecordingListResponse struct {
	Recordings []RecordingResponse `json:"recordings"`
	Total      int                 `json:"total"`
}

type RecordingQuery struct {
	CameraID string `form:"camera_id"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

type StorageInfoResponse struct {
	UsedBytes    int64   `json:"used_bytes"`
	QuotaBytes   int64   `json:"quota_bytes"`
	UsedFraction float64 `json:"used_fraction"`
}
