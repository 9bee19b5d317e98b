// Package camera runs one supervising goroutine per registered stream:
// connect, ingest frames, feed motion and detection, drive the activity
// trigger, and reconnect with exponential backoff when the transport
// fails.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/models"
	"github.com/your-org/nvr/internal/observability"
	"github.com/your-org/nvr/internal/recorder"
	"github.com/your-org/nvr/internal/trigger"
	"github.com/your-org/nvr/internal/vision"
)

var (
	ErrCameraExists   = errors.New("camera already supervised")
	ErrCameraNotFound = errors.New("camera not supervised")
)

type SupervisorConfig struct {
	Backoff       BackoffConfig
	Trigger       trigger.Config
	Motion        vision.MotionConfig
	MotionEnabled bool
	TickEvery     time.Duration // trigger timer resolution
}

// Supervisor owns the per-camera workers. All camera lifecycle
// operations go through it.
type Supervisor struct {
	cfg     SupervisorConfig
	bus     *eventbus.Bus
	rec     *recorder.Manager
	adapter *vision.Adapter
	factory SourceFactory

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
}

func NewSupervisor(cfg SupervisorConfig, bus *eventbus.Bus, rec *recorder.Manager, adapter *vision.Adapter, factory SourceFactory) *Supervisor {
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = 500 * time.Millisecond
	}
	if factory == nil {
		factory = NewFFmpegSource
	}
	return &Supervisor{
		cfg:     cfg,
		bus:     bus,
		rec:     rec,
		adapter: adapter,
		factory: factory,
		workers: make(map[uuid.UUID]*worker),
	}
}

// Add starts supervising a camera. Disabled cameras are registered but
// not connected until Start.
func (s *Supervisor) Add(cam models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[cam.ID]; ok {
		return ErrCameraExists
	}

	w := s.newWorker(cam)
	s.workers[cam.ID] = w
	if cam.Enabled {
		w.start()
	}
	return nil
}

// Start connects a registered camera that is currently stopped.
func (s *Supervisor) Start(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return ErrCameraNotFound
	}
	w.start()
	return nil
}

// Stop disconnects a camera without unregistering it. Any open activity
// episode is force-ended and its session finalized.
func (s *Supervisor) Stop(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return ErrCameraNotFound
	}
	w.stop(ctx, "camera stopped")
	return nil
}

// Remove stops and unregisters a camera, waiting (bounded by ctx) for
// its worker and any in-flight detection to settle.
func (s *Supervisor) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrCameraNotFound
	}

	w.stop(ctx, "camera removed")
	if s.adapter != nil {
		s.adapter.Forget(id.String())
	}
	return nil
}

// Update applies a registry change. A URI change restarts the
// connection.
func (s *Supervisor) Update(ctx context.Context, cam models.Camera) error {
	s.mu.Lock()
	w, ok := s.workers[cam.ID]
	s.mu.Unlock()
	if !ok {
		return ErrCameraNotFound
	}

	restart := w.updateConfig(cam)
	if restart {
		w.stop(ctx, "camera reconfigured")
	}
	if cam.Enabled && (restart || !w.running()) {
		w.start()
	} else if !cam.Enabled && w.running() {
		w.stop(ctx, "camera disabled")
	}
	return nil
}

// Health returns the runtime snapshot for one camera.
func (s *Supervisor) Health(id uuid.UUID) (models.CameraHealth, bool) {
	s.mu.Lock()
	w, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return models.CameraHealth{}, false
	}
	return w.snapshot(), true
}

// HealthAll returns snapshots for every supervised camera.
func (s *Supervisor) HealthAll() []models.CameraHealth {
	s.mu.Lock()
	ws := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	out := make([]models.CameraHealth, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.snapshot())
	}
	return out
}

// Shutdown stops every worker.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ws := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		ws = append(ws, w)
	}
	s.workers = make(map[uuid.UUID]*worker)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range ws {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop(ctx, "shutdown")
		}(w)
	}
	wg.Wait()
}

func (s *Supervisor) newWorker(cam models.Camera) *worker {
	return &worker{
		sup:    s,
		cam:    cam,
		state:  models.CameraDisconnected,
		trig:   trigger.New(cam.ID, s.cfg.Trigger),
		motion: vision.NewMotionDetector(s.cfg.Motion),
	}
}

// worker is the supervising goroutine state for one camera. Lifecycle
// fields (cancel, done) are guarded by lifeMu; runtime stats by statMu;
// the trigger and recorder interactions by trigMu.
type worker struct {
	sup *Supervisor
	cam models.Camera

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	source Source

	trigMu sync.Mutex
	trig   *trigger.Trigger
	motion *vision.MotionDetector

	statMu    sync.Mutex
	state     models.CameraState
	failures  int
	lastErr   string
	lastFrame time.Time
	frames    uint64
	seq       uint64
	fps       float64
	fpsCount  uint64
	fpsStart  time.Time
}

func (w *worker) running() bool {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	return w.cancel != nil
}

func (w *worker) start() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	observability.ActiveCameras.Inc()
	go w.run(ctx, w.done)
}

// stop cancels the worker, waits for it (bounded by ctx), force-ends any
// open episode, and finalizes the session.
func (w *worker) stop(ctx context.Context, reason string) {
	w.lifeMu.Lock()
	cancel := w.cancel
	done := w.done
	src := w.source
	w.cancel = nil
	w.done = nil
	w.source = nil
	w.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if src != nil {
		src.Close()
	}

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("worker did not stop in time", "camera_id", w.cam.ID)
	}
	observability.ActiveCameras.Dec()

	now := time.Now()
	w.trigMu.Lock()
	evs := w.trig.ForceEnd(now, reason)
	w.trigMu.Unlock()
	w.dispatch(context.Background(), evs)
	if w.sup.rec != nil {
		if err := w.sup.rec.ForceClose(context.Background(), w.cam.ID, now, reason); err != nil {
			slog.Error("closing session on stop", "camera_id", w.cam.ID, "error", err)
		}
	}
	w.setState(models.CameraDisconnected, "")
}

// updateConfig applies registry changes; reports whether the stream must
// be re-opened.
func (w *worker) updateConfig(cam models.Camera) bool {
	w.statMu.Lock()
	restart := w.cam.URI != cam.URI
	w.cam.Name = cam.Name
	w.cam.URI = cam.URI
	w.cam.Enabled = cam.Enabled
	w.statMu.Unlock()
	return restart
}

func (w *worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	go w.tickLoop(ctx)

	attempt := 0
	for ctx.Err() == nil {
		w.setState(models.CameraConnecting, "")

		w.statMu.Lock()
		uri := w.cam.URI
		w.statMu.Unlock()

		src := w.sup.factory(uri)
		w.lifeMu.Lock()
		w.source = src
		w.lifeMu.Unlock()

		hadFrames := false
		err := src.Open(ctx, func(data []byte, ts time.Time) error {
			if !hadFrames {
				hadFrames = true
				attempt = 0
				w.setState(models.CameraStreaming, "")
			}
			return w.onFrame(ctx, data, ts)
		})

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}

		attempt++
		observability.CameraRestarts.WithLabelValues(w.cam.ID.String()).Inc()
		delay := w.sup.cfg.Backoff.Delay(attempt)

		state := models.CameraConnecting
		if w.sup.cfg.Backoff.MaxConsecutive > 0 && attempt >= w.sup.cfg.Backoff.MaxConsecutive {
			state = models.CameraBackoff
		}
		w.statMu.Lock()
		w.failures = attempt
		w.statMu.Unlock()
		w.setState(state, err.Error())

		// A dropped stream means no more signals; the tick loop will end
		// the episode, but the reference frame is stale now.
		w.motion.Reset()

		slog.Warn("stream failed, reconnecting",
			"camera_id", w.cam.ID, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// tickLoop advances the trigger clock so episodes end even when no
// frames arrive.
func (w *worker) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sup.cfg.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.trigMu.Lock()
			evs := w.trig.Tick(now)
			w.trigMu.Unlock()
			w.dispatch(ctx, evs)
		}
	}
}

func (w *worker) onFrame(ctx context.Context, data []byte, ts time.Time) error {
	w.statMu.Lock()
	w.seq++
	seq := w.seq
	w.frames++
	w.failures = 0
	w.lastFrame = ts
	w.fpsCount++
	if w.fpsStart.IsZero() {
		w.fpsStart = ts
	} else if el := ts.Sub(w.fpsStart); el >= 5*time.Second {
		w.fps = float64(w.fpsCount) / el.Seconds()
		w.fpsCount = 0
		w.fpsStart = ts
	}
	w.statMu.Unlock()
	observability.FramesIngested.WithLabelValues(w.cam.ID.String()).Inc()

	// Record first so trigger or detection trouble never loses footage.
	if w.sup.rec != nil {
		err := w.sup.rec.AppendFrame(ctx, w.cam.ID, ts, data)
		if err != nil && !errors.Is(err, recorder.ErrNoSession) {
			w.trigMu.Lock()
			evs := w.trig.ForceEnd(ts, fmt.Sprintf("recording failure: %v", err))
			w.trigMu.Unlock()
			w.dispatch(ctx, evs)
		}
	}

	if w.sup.cfg.MotionEnabled {
		if moved, _, err := w.motion.Process(data); err == nil && moved {
			w.trigMu.Lock()
			evs := w.trig.OnMotion(ts)
			w.trigMu.Unlock()
			w.dispatch(ctx, evs)
		}
	}

	if w.sup.adapter != nil {
		// The source buffer is reused after this callback returns.
		frame := models.Frame{
			CameraID:  w.cam.ID,
			Seq:       seq,
			Timestamp: ts,
			Data:      append([]byte(nil), data...),
		}
		go w.detect(ctx, frame)
	}
	return nil
}

// detect runs the sampled detection path off the ingest goroutine so a
// slow model never stalls recording.
func (w *worker) detect(ctx context.Context, frame models.Frame) {
	det, ran, err := w.sup.adapter.Process(ctx, frame)
	if err != nil {
		slog.Warn("detection failed, frame skipped",
			"camera_id", w.cam.ID, "seq", frame.Seq, "error", err)
	}
	if !ran || det == nil || ctx.Err() != nil {
		return
	}

	if w.sup.bus != nil && (len(det.Objects) > 0 || err != nil) {
		w.sup.bus.Publish(eventbus.Event{
			Type:      eventbus.EventDetection,
			CameraID:  w.cam.ID,
			Timestamp: det.Timestamp,
			Detection: det,
		})
	}

	w.trigMu.Lock()
	evs := w.trig.OnDetection(*det)
	w.trigMu.Unlock()
	w.dispatch(ctx, evs)
}

// dispatch publishes trigger output and forwards it to the recorder.
func (w *worker) dispatch(ctx context.Context, evs []models.ActivityEvent) {
	for _, ev := range evs {
		if w.sup.bus != nil {
			cp := ev
			w.sup.bus.Publish(eventbus.Event{
				Type:      eventbus.EventActivity,
				CameraID:  ev.CameraID,
				Timestamp: ev.StartTime,
				Activity:  &cp,
			})
		}
		if w.sup.rec != nil {
			if err := w.sup.rec.HandleActivity(ctx, ev); err != nil {
				slog.Error("recorder rejected activity event",
					"camera_id", ev.CameraID, "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (w *worker) setState(state models.CameraState, lastErr string) {
	w.statMu.Lock()
	changed := w.state != state || w.lastErr != lastErr
	w.state = state
	if lastErr != "" || state == models.CameraStreaming {
		w.lastErr = lastErr
	}
	w.statMu.Unlock()

	if changed && w.sup.bus != nil {
		h := w.snapshot()
		w.sup.bus.Publish(eventbus.Event{
			Type:      eventbus.EventHealth,
			CameraID:  w.cam.ID,
			Timestamp: time.Now(),
			Health:    &h,
		})
	}
}

func (w *worker) snapshot() models.CameraHealth {
	w.statMu.Lock()
	defer w.statMu.Unlock()
	return models.CameraHealth{
		CameraID:            w.cam.ID,
		State:               w.state,
		ConsecutiveFailures: w.failures,
		LastError:           w.lastErr,
		LastFrameAt:         w.lastFrame,
		FramesIngested:      w.frames,
		FPS:                 w.fps,
	}
}
