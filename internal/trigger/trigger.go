// Package trigger decides when camera activity starts and stops. Each
// camera owns one Trigger; all methods take explicit timestamps so the
// state machine is deterministic and clock-free.
package trigger

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
)

type State string

const (
	Idle        State = "idle"
	Active      State = "active"
	CoolingDown State = "cooling_down"
)

type Config struct {
	Cooldown          time.Duration
	PostRoll          time.Duration
	ClassesOfInterest []string
}

// Trigger is the per-camera activity state machine:
//
//	Idle -> Active          qualifying signal; emits Started
//	Active -> Active        qualifying signal resets the inactivity timer
//	Active -> CoolingDown   no signal for Cooldown
//	CoolingDown -> Active   new signal cancels the pending end
//	CoolingDown -> Idle     PostRoll elapses; emits Ended
//
// Not safe for concurrent use; the owning camera goroutine serializes
// all calls.
type Trigger struct {
	cameraID uuid.UUID
	cfg      Config
	classes  map[string]struct{}

	state       State
	startTime   time.Time
	startReason models.TriggerReason
	startLabel  string
	lastSignal  time.Time
}

func New(cameraID uuid.UUID, cfg Config) *Trigger {
	classes := make(map[string]struct{}, len(cfg.ClassesOfInterest))
	for _, c := range cfg.ClassesOfInterest {
		classes[c] = struct{}{}
	}
	return &Trigger{
		cameraID: cameraID,
		cfg:      cfg,
		classes:  classes,
		state:    Idle,
	}
}

func (t *Trigger) State() State { return t.state }

// OnDetection feeds one frame's detections. Multiple qualifying objects
// in the same frame count as a single signal.
func (t *Trigger) OnDetection(det models.Detection) []models.ActivityEvent {
	for _, obj := range det.Objects {
		if _, ok := t.classes[obj.Label]; ok {
			return t.signal(det.Timestamp, models.ReasonDetection, obj.Label)
		}
	}
	return t.Tick(det.Timestamp)
}

// OnMotion feeds a motion signal for one frame.
func (t *Trigger) OnMotion(ts time.Time) []models.ActivityEvent {
	return t.signal(ts, models.ReasonMotion, "")
}

func (t *Trigger) signal(ts time.Time, reason models.TriggerReason, label string) []models.ActivityEvent {
	switch t.state {
	case Idle:
		t.state = Active
		t.startTime = ts
		t.startReason = reason
		t.startLabel = label
		t.lastSignal = ts
		return []models.ActivityEvent{{
			CameraID:  t.cameraID,
			Kind:      models.ActivityStarted,
			Reason:    reason,
			Label:     label,
			StartTime: ts,
		}}
	case Active, CoolingDown:
		// A signal during cooldown cancels the pending end.
		t.state = Active
		t.lastSignal = ts
		return []models.ActivityEvent{{
			CameraID:  t.cameraID,
			Kind:      models.ActivityOngoing,
			Reason:    reason,
			Label:     label,
			StartTime: t.startTime,
		}}
	}
	return nil
}

// Tick advances timers to now. Must be called periodically even when no
// frames arrive so a stalled stream still ends its episode.
func (t *Trigger) Tick(now time.Time) []models.ActivityEvent {
	switch t.state {
	case Active:
		if now.Sub(t.lastSignal) >= t.cfg.Cooldown {
			t.state = CoolingDown
		}
		// CoolingDown may expire in the same tick when both windows have
		// already passed; fall through to the check below.
		if t.state != CoolingDown {
			return nil
		}
		fallthrough
	case CoolingDown:
		endAt := t.lastSignal.Add(t.cfg.Cooldown + t.cfg.PostRoll)
		if now.Before(endAt) {
			return nil
		}
		t.state = Idle
		ev := models.ActivityEvent{
			CameraID:  t.cameraID,
			Kind:      models.ActivityEnded,
			Reason:    t.startReason,
			Label:     t.startLabel,
			StartTime: t.startTime,
			EndTime:   &endAt,
		}
		return []models.ActivityEvent{ev}
	}
	return nil
}

// ForceEnd ends an in-progress episode immediately, tagging the Ended
// event with reason. Used when a camera is removed or its recording
// fails while activity is open.
func (t *Trigger) ForceEnd(now time.Time, reason string) []models.ActivityEvent {
	if t.state == Idle {
		return nil
	}
	t.state = Idle
	end := now
	return []models.ActivityEvent{{
		CameraID:      t.cameraID,
		Kind:          models.ActivityEnded,
		Reason:        t.startReason,
		Label:         t.startLabel,
		StartTime:     t.startTime,
		EndTime:       &end,
		FailureReason: reason,
	}}
}
