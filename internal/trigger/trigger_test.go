package trigger

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func newTestTrigger() *Trigger {
	return New(uuid.New(), Config{
		Cooldown:          3 * time.Second,
		PostRoll:          2 * time.Second,
		ClassesOfInterest: []string{"person"},
	})
}

func personDetection(ts time.Time) models.Detection {
	return models.Detection{
		Timestamp: ts,
		Objects: []models.Object{
			{Label: "person", Confidence: 0.9, BBox: models.BoundingBox{0, 0, 10, 10}},
		},
	}
}

// Detections at t=0,1,2s with cooldown=3s and post-roll=2s produce one
// episode that starts at t=0 and ends at t=2+3+2=7s.
func TestEpisodeTiming(t *testing.T) {
	tr := newTestTrigger()

	events := tr.OnDetection(personDetection(at(0)))
	if len(events) != 1 || events[0].Kind != models.ActivityStarted {
		t.Fatalf("expected Started at t=0, got %+v", events)
	}
	if !events[0].StartTime.Equal(at(0)) {
		t.Errorf("start time = %v, want %v", events[0].StartTime, at(0))
	}

	for _, sec := range []float64{1, 2} {
		events = tr.OnDetection(personDetection(at(sec)))
		if len(events) != 1 || events[0].Kind != models.ActivityOngoing {
			t.Fatalf("expected Ongoing at t=%vs, got %+v", sec, events)
		}
	}

	// Nothing ends before t=7s.
	for _, sec := range []float64{3, 4.9, 5, 6.9} {
		if events = tr.Tick(at(sec)); len(events) != 0 {
			t.Fatalf("unexpected events at t=%vs: %+v", sec, events)
		}
	}

	events = tr.Tick(at(7))
	if len(events) != 1 || events[0].Kind != models.ActivityEnded {
		t.Fatalf("expected Ended at t=7s, got %+v", events)
	}
	if events[0].EndTime == nil || !events[0].EndTime.Equal(at(7)) {
		t.Errorf("end time = %v, want %v", events[0].EndTime, at(7))
	}
	if tr.State() != Idle {
		t.Errorf("state = %s, want idle", tr.State())
	}
}

func TestStartedEndedAlternateStrictly(t *testing.T) {
	tr := newTestTrigger()

	var kinds []models.ActivityKind
	collect := func(events []models.ActivityEvent) {
		for _, ev := range events {
			if ev.Kind != models.ActivityOngoing {
				kinds = append(kinds, ev.Kind)
			}
		}
	}

	// Three episodes separated by quiet periods, with signals inside.
	sec := 0.0
	for episode := 0; episode < 3; episode++ {
		for i := 0; i < 4; i++ {
			collect(tr.OnDetection(personDetection(at(sec))))
			sec += 0.5
		}
		for i := 0; i < 20; i++ {
			collect(tr.Tick(at(sec)))
			sec += 0.5
		}
	}

	if len(kinds) != 6 {
		t.Fatalf("expected 3 Started + 3 Ended, got %v", kinds)
	}
	for i, k := range kinds {
		want := models.ActivityStarted
		if i%2 == 1 {
			want = models.ActivityEnded
		}
		if k != want {
			t.Fatalf("position %d: got %s, want %s (sequence %v)", i, k, want, kinds)
		}
	}
}

func TestSignalDuringCooldownCancelsEnd(t *testing.T) {
	tr := newTestTrigger()

	tr.OnDetection(personDetection(at(0)))

	// Enter cooldown at t=3, post-roll would end at t=5.
	tr.Tick(at(3.5))
	if tr.State() != CoolingDown {
		t.Fatalf("state = %s, want cooling_down", tr.State())
	}

	// A new signal at t=4 cancels the pending end.
	events := tr.OnDetection(personDetection(at(4)))
	if len(events) != 1 || events[0].Kind != models.ActivityOngoing {
		t.Fatalf("expected Ongoing, got %+v", events)
	}
	if tr.State() != Active {
		t.Fatalf("state = %s, want active", tr.State())
	}

	// The old deadline must not fire.
	if events = tr.Tick(at(5)); len(events) != 0 {
		t.Fatalf("stale end fired: %+v", events)
	}

	// New deadline is 4+3+2 = 9.
	events = tr.Tick(at(9))
	if len(events) != 1 || events[0].Kind != models.ActivityEnded {
		t.Fatalf("expected Ended at t=9, got %+v", events)
	}
	if !events[0].EndTime.Equal(at(9)) {
		t.Errorf("end time = %v, want %v", events[0].EndTime, at(9))
	}
}

func TestSameFrameDetectionsCountOnce(t *testing.T) {
	tr := newTestTrigger()

	det := models.Detection{
		Timestamp: at(0),
		Objects: []models.Object{
			{Label: "person", Confidence: 0.9},
			{Label: "person", Confidence: 0.8},
			{Label: "person", Confidence: 0.7},
		},
	}

	events := tr.OnDetection(det)
	if len(events) != 1 {
		t.Fatalf("expected exactly one Started for a multi-object frame, got %d", len(events))
	}
	if events[0].Kind != models.ActivityStarted {
		t.Errorf("expected Started, got %s", events[0].Kind)
	}
}

func TestNonMatchingClassesIgnored(t *testing.T) {
	tr := newTestTrigger()

	det := models.Detection{
		Timestamp: at(0),
		Objects:   []models.Object{{Label: "car", Confidence: 0.95}},
	}

	if events := tr.OnDetection(det); len(events) != 0 {
		t.Fatalf("non-matching class triggered activity: %+v", events)
	}
	if tr.State() != Idle {
		t.Errorf("state = %s, want idle", tr.State())
	}
}

func TestMotionSignal(t *testing.T) {
	tr := newTestTrigger()

	events := tr.OnMotion(at(0))
	if len(events) != 1 || events[0].Kind != models.ActivityStarted {
		t.Fatalf("expected Started from motion, got %+v", events)
	}
	if events[0].Reason != models.ReasonMotion {
		t.Errorf("reason = %s, want motion", events[0].Reason)
	}
}

func TestLateTickEndsEpisode(t *testing.T) {
	tr := newTestTrigger()

	tr.OnDetection(personDetection(at(0)))

	// One very late tick must still end the episode, with the end time
	// computed from the last signal rather than the tick time.
	events := tr.Tick(at(60))
	if len(events) != 1 || events[0].Kind != models.ActivityEnded {
		t.Fatalf("expected Ended, got %+v", events)
	}
	if !events[0].EndTime.Equal(at(5)) {
		t.Errorf("end time = %v, want %v", events[0].EndTime, at(5))
	}
}

func TestForceEnd(t *testing.T) {
	tr := newTestTrigger()

	tr.OnDetection(personDetection(at(0)))
	events := tr.ForceEnd(at(1), "camera removed")
	if len(events) != 1 || events[0].Kind != models.ActivityEnded {
		t.Fatalf("expected Ended, got %+v", events)
	}
	if events[0].FailureReason != "camera removed" {
		t.Errorf("failure reason not carried: %+v", events[0])
	}
	if tr.State() != Idle {
		t.Errorf("state = %s, want idle", tr.State())
	}

	if events = tr.ForceEnd(at(2), "again"); len(events) != 0 {
		t.Errorf("ForceEnd on idle trigger emitted events: %+v", events)
	}
}
