package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "frames_ingested_total",
		Help:      "Total number of frames read from camera streams",
	}, []string{"camera_id"})

	ObjectsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "objects_detected_total",
		Help:      "Total number of objects returned by the detection backend",
	}, []string{"camera_id", "label"})

	DetectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "detection_errors_total",
		Help:      "Detection calls that failed or timed out",
	}, []string{"camera_id", "kind"})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nvr",
		Name:      "detection_duration_seconds",
		Help:      "Duration of detection backend invocations",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nvr",
		Name:      "active_cameras",
		Help:      "Number of supervised cameras currently streaming",
	})

	CameraRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "camera_restarts_total",
		Help:      "Reconnect attempts after stream failures",
	}, []string{"camera_id"})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nvr",
		Name:      "open_recording_sessions",
		Help:      "Number of currently open recording sessions",
	})

	RecordedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "recorded_bytes_total",
		Help:      "Bytes written to recording containers",
	}, []string{"camera_id"})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "sessions_evicted_total",
		Help:      "Closed sessions evicted to reclaim disk quota",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "events_published_total",
		Help:      "Events published on the in-process bus",
	}, []string{"type"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nvr",
		Name:      "events_dropped_total",
		Help:      "Events dropped from slow subscriber queues",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nvr",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket subscribers",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nvr",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
