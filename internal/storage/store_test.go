package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
)

func TestMemoryCameraCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cam := &models.Camera{Name: "front door", URI: "rtsp://cam/stream", Enabled: true}
	if err := s.CreateCamera(ctx, cam); err != nil {
		t.Fatalf("create: %v", err)
	}
	if cam.ID == uuid.Nil || cam.CreatedAt.IsZero() {
		t.Error("create did not assign id and timestamps")
	}

	got, err := s.GetCamera(ctx, cam.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "front door" {
		t.Errorf("name %q", got.Name)
	}

	got.Name = "back door"
	if err := s.UpdateCamera(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, _ := s.GetCamera(ctx, cam.ID)
	if got2.Name != "back door" {
		t.Errorf("update not applied: %q", got2.Name)
	}
	if !got2.CreatedAt.Equal(cam.CreatedAt) {
		t.Error("update changed created_at")
	}

	if err := s.DeleteCamera(ctx, cam.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCamera(ctx, cam.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestMemorySessionPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cam := uuid.New()
	other := uuid.New()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		sess := &models.RecordingSession{
			ID:        uuid.New(),
			CameraID:  cam,
			StartTime: base.Add(time.Duration(i) * time.Minute),
			Status:    models.SessionClosed,
		}
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	s.SaveSession(ctx, &models.RecordingSession{ID: uuid.New(), CameraID: other, StartTime: base, Status: models.SessionClosed})

	page, total, err := s.ListSessions(ctx, &cam, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}
	// Newest first.
	if !page[0].StartTime.After(page[1].StartTime) {
		t.Error("sessions not ordered newest first")
	}

	page2, _, err := s.ListSessions(ctx, &cam, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 1 {
		t.Errorf("last page len %d, want 1", len(page2))
	}

	all, total, err := s.ListSessions(ctx, nil, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 6 || len(all) != 6 {
		t.Errorf("unfiltered total=%d len=%d", total, len(all))
	}
}

func TestMemorySessionUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sess := &models.RecordingSession{ID: uuid.New(), CameraID: uuid.New(), Status: models.SessionOpen}
	s.SaveSession(ctx, sess)
	sess.Status = models.SessionClosed
	sess.Frames = 42
	s.SaveSession(ctx, sess)

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionClosed || got.Frames != 42 {
		t.Errorf("upsert not applied: %+v", got)
	}
}
