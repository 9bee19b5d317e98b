package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/models"
)

func TestWantsCameraFilter(t *testing.T) {
	cam := uuid.New()
	other := uuid.New()

	ev := eventbus.Event{Type: eventbus.EventDetection, CameraID: cam}
	if !wants(ev, cam, nil) {
		t.Error("event for the filtered camera rejected")
	}
	if wants(ev, other, nil) {
		t.Error("event for another camera passed the filter")
	}
	if !wants(ev, uuid.Nil, nil) {
		t.Error("no filter must pass everything")
	}
}

func TestWantsTypeFilter(t *testing.T) {
	filter := parseTypes("activity, session")
	if filter == nil {
		t.Fatal("parseTypes returned nil for a non-empty list")
	}

	if !wants(eventbus.Event{Type: eventbus.EventActivity}, uuid.Nil, filter) {
		t.Error("listed type rejected")
	}
	if wants(eventbus.Event{Type: eventbus.EventDetection}, uuid.Nil, filter) {
		t.Error("unlisted type passed")
	}
}

// A gap marker must reach the client regardless of its filters, or the
// client cannot tell its view is incomplete.
func TestWantsDroppedMarkerBypassesFilters(t *testing.T) {
	marker := eventbus.Event{Type: eventbus.EventDropped, Dropped: 4}
	if !wants(marker, uuid.New(), parseTypes("detection")) {
		t.Error("dropped marker blocked by filters")
	}
}

func TestParseTypes(t *testing.T) {
	if got := parseTypes(""); got != nil {
		t.Errorf("empty list should disable the filter, got %v", got)
	}
	got := parseTypes("detection,, health ,")
	if len(got) != 2 {
		t.Fatalf("expected 2 types, got %v", got)
	}
	for _, want := range []eventbus.EventType{eventbus.EventDetection, eventbus.EventHealth} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing type %s", want)
		}
	}
}

func TestToWSEventCarriesPayload(t *testing.T) {
	cam := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := eventbus.Event{
		Seq:       7,
		Type:      eventbus.EventActivity,
		CameraID:  cam,
		Timestamp: ts,
		Activity: &models.ActivityEvent{
			CameraID:  cam,
			Kind:      models.ActivityStarted,
			Reason:    models.ReasonDetection,
			Label:     "person",
			StartTime: ts,
		},
	}

	msg, err := toWSEvent(ev)
	if err != nil {
		t.Fatalf("toWSEvent: %v", err)
	}
	if msg.Seq != 7 || msg.Type != "activity" || msg.CameraID != cam {
		t.Errorf("envelope mismatch: %+v", msg)
	}
	if msg.Timestamp != ts.Format(time.RFC3339Nano) {
		t.Errorf("timestamp %q", msg.Timestamp)
	}

	var activity models.ActivityEvent
	if err := json.Unmarshal(msg.Data, &activity); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if activity.Kind != models.ActivityStarted || activity.Label != "person" {
		t.Errorf("payload mismatch: %+v", activity)
	}
}

func TestToWSEventDroppedMarker(t *testing.T) {
	msg, err := toWSEvent(eventbus.Event{Type: eventbus.EventDropped, Timestamp: time.Now(), Dropped: 12})
	if err != nil {
		t.Fatalf("toWSEvent: %v", err)
	}
	if msg.Dropped != 12 {
		t.Errorf("dropped count %d, want 12", msg.Dropped)
	}
	if len(msg.Data) != 0 {
		t.Errorf("marker should carry no payload, got %s", msg.Data)
	}
}
