// Package vision wraps the detection backend. The backend is a black
// box behind the Detector interface; the Adapter adds frame sampling,
// a global concurrency bound, and timeouts so a slow or unavailable
// model can never stall camera ingestion.
package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/nvr/internal/models"
	"github.com/your-org/nvr/internal/observability"
)

// DetectionError is a transient detection-backend failure (model
// unavailable, timeout). The affected frame is skipped.
type DetectionError struct {
	CameraID string
	Err      error
}

func (e *DetectionError) Error() string { return fmt.Sprintf("detect camera %s: %v", e.CameraID, e.Err) }
func (e *DetectionError) Unwrap() error { return e.Err }

// Detector is the black-box detection backend: frame in, detected
// objects out. Implementations must honor ctx cancellation.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Object, error)
	Close()
}

type AdapterConfig struct {
	SampleInterval int           // frames between detection calls (1 = every frame)
	MaxConcurrent  int           // model invocations running at once, across cameras
	Timeout        time.Duration // per-call model timeout
	QueueTimeout   time.Duration // max wait for a free invocation slot
}

// Adapter applies the detector to sampled frames. One Adapter is shared
// by all cameras so MaxConcurrent bounds total backend load.
type Adapter struct {
	detector Detector
	cfg      AdapterConfig
	slots    chan struct{}

	mu      sync.Mutex
	counter map[string]int // per-camera frame counter for sampling
}

func NewAdapter(detector Detector, cfg AdapterConfig) *Adapter {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Adapter{
		detector: detector,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		counter:  make(map[string]int),
	}
}

// Process runs detection on the frame if it falls on the sampling
// interval. Returns (nil, false, nil) for skipped frames. A backend
// timeout or queue timeout yields an empty detection plus a
// *DetectionError; the caller reports it and moves on.
func (a *Adapter) Process(ctx context.Context, frame models.Frame) (*models.Detection, bool, error) {
	if a.detector == nil {
		return nil, false, nil
	}
	if !a.sampled(frame.CameraID.String()) {
		return nil, false, nil
	}

	camID := frame.CameraID.String()

	// Wait for an invocation slot, but never indefinitely.
	queueCtx := ctx
	if a.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, a.cfg.QueueTimeout)
		defer cancel()
	}
	select {
	case a.slots <- struct{}{}:
	case <-queueCtx.Done():
		observability.DetectionErrors.WithLabelValues(camID, "queue_timeout").Inc()
		return a.empty(frame), true, &DetectionError{CameraID: camID, Err: fmt.Errorf("detection queue: %w", queueCtx.Err())}
	}
	defer func() { <-a.slots }()

	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	objects, err := a.detector.Detect(callCtx, frame)
	observability.DetectionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := "backend"
		if callCtx.Err() != nil {
			kind = "timeout"
		}
		observability.DetectionErrors.WithLabelValues(camID, kind).Inc()
		return a.empty(frame), true, &DetectionError{CameraID: camID, Err: err}
	}

	for _, obj := range objects {
		observability.ObjectsDetected.WithLabelValues(camID, obj.Label).Inc()
	}

	return &models.Detection{
		CameraID:  frame.CameraID,
		Timestamp: frame.Timestamp,
		FrameSeq:  frame.Seq,
		Objects:   objects,
	}, true, nil
}

// Forget releases the sampling state for a removed camera.
func (a *Adapter) Forget(cameraID string) {
	a.mu.Lock()
	delete(a.counter, cameraID)
	a.mu.Unlock()
}

func (a *Adapter) sampled(cameraID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.counter[cameraID]
	a.counter[cameraID] = n + 1
	return n%a.cfg.SampleInterval == 0
}

func (a *Adapter) empty(frame models.Frame) *models.Detection {
	return &models.Detection{
		CameraID:  frame.CameraID,
		Timestamp: frame.Timestamp,
		FrameSeq:  frame.Seq,
	}
}
