package recorder

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/models"
)

func newTestManager(t *testing.T, quota, reserve int64) (*Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(64)
	t.Cleanup(bus.Close)
	m, err := NewManager(Config{
		Dir:          t.TempDir(),
		QuotaBytes:   quota,
		ReserveBytes: reserve,
	}, bus, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, bus
}

func started(cam uuid.UUID, at time.Time) models.ActivityEvent {
	return models.ActivityEvent{CameraID: cam, Kind: models.ActivityStarted, Reason: models.ReasonDetection, StartTime: at}
}

func ended(cam uuid.UUID, at, end time.Time) models.ActivityEvent {
	return models.ActivityEvent{CameraID: cam, Kind: models.ActivityEnded, Reason: models.ReasonDetection, StartTime: at, EndTime: &end}
}

func TestSessionLifecycle(t *testing.T) {
	m, _ := newTestManager(t, 0, 0)
	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)

	if err := m.HandleActivity(ctx, started(cam, t0)); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.AppendFrame(ctx, cam, t0.Add(time.Duration(i)*time.Second), []byte("jpegjpegjpeg")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := m.HandleActivity(ctx, ended(cam, t0, t0.Add(10*time.Second))); err != nil {
		t.Fatalf("end: %v", err)
	}

	sessions := m.Sessions(&cam)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Status != models.SessionClosed {
		t.Errorf("status %s, want closed", s.Status)
	}
	if s.Frames != 5 {
		t.Errorf("frames %d, want 5", s.Frames)
	}
	if s.EndTime == nil || !s.EndTime.Equal(t0.Add(10*time.Second)) {
		t.Errorf("end time %v", s.EndTime)
	}

	info, err := ReadSegment(s.Path, nil)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if !info.Complete || info.FrameCount != 5 {
		t.Errorf("segment complete=%v frames=%d", info.Complete, info.FrameCount)
	}
}

func TestOnePerCameraInvariant(t *testing.T) {
	m, _ := newTestManager(t, 0, 0)
	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)

	if err := m.HandleActivity(ctx, started(cam, t0)); err != nil {
		t.Fatal(err)
	}
	// A second start must extend the existing session, not open another.
	if err := m.HandleActivity(ctx, started(cam, t0.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	open := 0
	for _, s := range m.Sessions(&cam) {
		if s.Status == models.SessionOpen {
			open++
		}
	}
	if open != 1 {
		t.Errorf("expected 1 open session, got %d", open)
	}
}

func TestFrameWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, 0, 0)
	err := m.AppendFrame(context.Background(), uuid.New(), time.Now(), []byte("x"))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestOngoingKeepsSessionOpen(t *testing.T) {
	m, _ := newTestManager(t, 0, 0)
	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)

	m.HandleActivity(ctx, started(cam, t0))
	m.HandleActivity(ctx, models.ActivityEvent{CameraID: cam, Kind: models.ActivityOngoing, StartTime: t0.Add(time.Second)})

	if s := m.Sessions(&cam); len(s) != 1 || s[0].Status != models.SessionOpen {
		t.Errorf("ongoing event must not close the session: %+v", s)
	}
}

func TestQuotaEvictsOldestClosed(t *testing.T) {
	// Each closed session is ~1KB; the quota admits two, so the third
	// start forces eviction of the first.
	m, _ := newTestManager(t, 2500, 1200)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	payload := make([]byte, 900)
	cams := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, cam := range cams {
		at := t0.Add(time.Duration(i) * time.Minute)
		if err := m.HandleActivity(ctx, started(cam, at)); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if err := m.AppendFrame(ctx, cam, at, payload); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := m.HandleActivity(ctx, ended(cam, at, at.Add(time.Second))); err != nil {
			t.Fatalf("end %d: %v", i, err)
		}
	}

	var first models.RecordingSession
	for _, s := range m.Sessions(nil) {
		if s.CameraID == cams[0] {
			first = s
		}
	}
	if first.Status != models.SessionEvicted {
		t.Errorf("oldest session status %s, want evicted", first.Status)
	}
	if _, err := os.Stat(first.Path); !os.IsNotExist(err) {
		t.Errorf("evicted segment file still present")
	}

	used, quota := m.Usage()
	if used > quota {
		t.Errorf("usage %d exceeds quota %d", used, quota)
	}
}

func TestOpenSessionsNeverEvicted(t *testing.T) {
	m, _ := newTestManager(t, 2048, 1024)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	camA := uuid.New()
	if err := m.HandleActivity(ctx, started(camA, t0)); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendFrame(ctx, camA, t0, make([]byte, 1500)); err != nil {
		t.Fatal(err)
	}

	// No closed sessions exist, so admission must fail rather than touch
	// the open one.
	camB := uuid.New()
	err := m.HandleActivity(ctx, started(camB, t0.Add(time.Minute)))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if s := m.Sessions(&camA); s[0].Status != models.SessionOpen {
		t.Errorf("open session was disturbed: %s", s[0].Status)
	}
}

func TestSessionEventsPublished(t *testing.T) {
	m, bus := newTestManager(t, 0, 0)
	sub, err := bus.Subscribe("test", 16)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)
	m.HandleActivity(ctx, started(cam, t0))
	m.HandleActivity(ctx, ended(cam, t0, t0.Add(time.Second)))

	var statuses []models.SessionStatus
	for {
		ev, ok := sub.TryNext()
		if !ok {
			break
		}
		if ev.Type == eventbus.EventSession {
			statuses = append(statuses, ev.Session.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != models.SessionOpen || statuses[1] != models.SessionClosed {
		t.Errorf("session event statuses %v, want [open closed]", statuses)
	}
}

func TestForceCloseRecordsReason(t *testing.T) {
	m, _ := newTestManager(t, 0, 0)
	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)

	m.HandleActivity(ctx, started(cam, t0))
	if err := m.ForceClose(ctx, cam, t0.Add(time.Second), "camera removed"); err != nil {
		t.Fatal(err)
	}

	s := m.Sessions(&cam)[0]
	if s.Status != models.SessionFailed || s.FailureReason != "camera removed" {
		t.Errorf("status=%s reason=%q", s.Status, s.FailureReason)
	}
}

func TestRecoverRebuildsIndex(t *testing.T) {
	bus := eventbus.New(64)
	defer bus.Close()
	dir := t.TempDir()
	ctx := context.Background()

	m1, err := NewManager(Config{Dir: dir}, bus, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)
	m1.HandleActivity(ctx, started(cam, t0))
	m1.AppendFrame(ctx, cam, t0, make([]byte, 300))
	m1.HandleActivity(ctx, ended(cam, t0, t0.Add(time.Second)))

	// Second session left open, simulating a crash.
	camB := uuid.New()
	m1.HandleActivity(ctx, started(camB, t0.Add(time.Minute)))
	m1.AppendFrame(ctx, camB, t0.Add(time.Minute), make([]byte, 300))

	m2, err := NewManager(Config{Dir: dir}, bus, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	all := m2.Sessions(nil)
	if len(all) != 2 {
		t.Fatalf("recovered %d sessions, want 2", len(all))
	}
	byCam := map[uuid.UUID]models.RecordingSession{}
	for _, s := range all {
		byCam[s.CameraID] = s
	}
	if byCam[cam].Status != models.SessionClosed {
		t.Errorf("finalized session recovered as %s", byCam[cam].Status)
	}
	if byCam[camB].Status != models.SessionFailed {
		t.Errorf("crashed session recovered as %s", byCam[camB].Status)
	}

	used, _ := m2.Usage()
	if used <= 0 {
		t.Error("recovered usage not accounted")
	}
}

func TestRetentionCleanup(t *testing.T) {
	bus := eventbus.New(64)
	defer bus.Close()
	m, err := NewManager(Config{Dir: t.TempDir(), RetentionDays: 7}, bus, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	cam := uuid.New()
	old := time.Now().UTC().AddDate(0, 0, -30)
	m.HandleActivity(ctx, started(cam, old))
	m.AppendFrame(ctx, cam, old, make([]byte, 200))
	m.HandleActivity(ctx, ended(cam, old, old.Add(time.Second)))

	camNew := uuid.New()
	now := time.Now().UTC()
	m.HandleActivity(ctx, started(camNew, now))
	m.HandleActivity(ctx, ended(camNew, now, now.Add(time.Second)))

	m.cleanupExpired(ctx)

	if s := m.Sessions(&cam); len(s) != 0 {
		t.Errorf("expired session not removed: %+v", s)
	}
	if s := m.Sessions(&camNew); len(s) != 1 {
		t.Errorf("recent session removed by retention")
	}
}

// removeLocalArchiver behaves like the object-store archiver with
// delete_local enabled.
type removeLocalArchiver struct{}

func (removeLocalArchiver) Archive(ctx context.Context, s *models.RecordingSession, localPath string) error {
	return os.Remove(localPath)
}

func TestArchiveDeleteLocalReleasesQuota(t *testing.T) {
	bus := eventbus.New(64)
	t.Cleanup(bus.Close)
	m, err := NewManager(Config{
		Dir:          t.TempDir(),
		QuotaBytes:   1 << 20,
		ReserveBytes: 1,
	}, bus, nil, removeLocalArchiver{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cam := uuid.New()
	t0 := time.Unix(1700000000, 0)

	m.HandleActivity(ctx, started(cam, t0))
	for i := 0; i < 3; i++ {
		if err := m.AppendFrame(ctx, cam, t0.Add(time.Duration(i)*time.Second), make([]byte, 256)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := m.HandleActivity(ctx, ended(cam, t0, t0.Add(5*time.Second))); err != nil {
		t.Fatalf("end: %v", err)
	}

	// The archive runs async; once the local copy is gone its bytes no
	// longer count against the quota.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if used, _ := m.Usage(); used == 0 {
			break
		}
		if time.Now().After(deadline) {
			used, _ := m.Usage()
			t.Fatalf("archived bytes still counted: used = %d", used)
		}
		time.Sleep(5 * time.Millisecond)
	}

	sessions := m.Sessions(&cam)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Status != models.SessionClosed || !s.Archived {
		t.Errorf("session status=%s archived=%v, want closed and archived", s.Status, s.Archived)
	}
	if s.Bytes == 0 {
		t.Errorf("session byte metadata lost on archive")
	}

	// An archived session has no local file to free; it must never be
	// picked as an eviction victim.
	m.mu.Lock()
	victim := m.oldestClosedLocked()
	m.mu.Unlock()
	if victim != nil {
		t.Errorf("archived session offered for eviction: %+v", victim)
	}
}
