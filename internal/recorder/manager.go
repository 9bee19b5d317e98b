// Package recorder owns recording sessions: one segment file per
// activity episode, opened on activity start and finalized on activity
// end, under a disk quota enforced by evicting the oldest closed
// segments.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/models"
	"github.com/your-org/nvr/internal/observability"
)

// ErrQuotaExceeded means a new session could not be admitted even after
// evicting every closed segment.
var ErrQuotaExceeded = errors.New("recording quota exceeded")

// ErrNoSession means a frame arrived for a camera with no open session.
var ErrNoSession = errors.New("no open recording session")

// SessionSink persists session metadata. Implementations must tolerate
// repeated saves of the same session as its status advances.
type SessionSink interface {
	SaveSession(ctx context.Context, s *models.RecordingSession) error
}

// Archiver uploads a finalized segment to remote storage.
type Archiver interface {
	Archive(ctx context.Context, s *models.RecordingSession, localPath string) error
}

type Config struct {
	Dir           string
	QuotaBytes    int64
	ReserveBytes  int64 // headroom required to admit a new session
	RetentionDays int
	CleanupEvery  time.Duration
}

type activeSession struct {
	sess *models.RecordingSession
	w    *SegmentWriter
}

// Manager maps activity episodes onto segment files. All state mutations
// go through mu; segment writes happen inside it too, which serializes
// appends per camera (and across cameras, acceptable at JPEG frame
// rates).
type Manager struct {
	cfg      Config
	bus      *eventbus.Bus
	store    SessionSink
	archiver Archiver

	mu       sync.Mutex
	open     map[uuid.UUID]*activeSession           // by camera
	sessions map[uuid.UUID]*models.RecordingSession // by session id
	used     int64
}

// NewManager creates the manager. store and archiver may be nil.
func NewManager(cfg Config, bus *eventbus.Bus, store SessionSink, archiver Archiver) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("recording dir not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	if cfg.ReserveBytes <= 0 {
		cfg.ReserveBytes = 64 * 1024 * 1024
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		archiver: archiver,
		open:     make(map[uuid.UUID]*activeSession),
		sessions: make(map[uuid.UUID]*models.RecordingSession),
	}, nil
}

// Recover scans the recording directory, rebuilding the session index
// from segment files. Segments without a valid trailer are registered as
// failed; everything counts against the quota.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return filepath.WalkDir(m.cfg.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".nvr" {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}

		id, err := uuid.Parse(nameWithoutExt(d.Name()))
		if err != nil {
			slog.Warn("skipping unrecognized segment", "path", path)
			return nil
		}

		info, rerr := ReadSegment(path, nil)
		if rerr != nil {
			slog.Warn("unreadable segment counted against quota", "path", path, "error", rerr)
			m.used += fi.Size()
			return nil
		}

		sess := &models.RecordingSession{
			ID:        id,
			CameraID:  info.CameraID,
			Path:      path,
			StartTime: info.StartTime,
			Bytes:     fi.Size(),
			Frames:    int64(info.FrameCount),
			Status:    models.SessionClosed,
			CreatedAt: info.StartTime,
		}
		if info.Complete {
			end := info.EndTime
			sess.EndTime = &end
		} else {
			sess.Status = models.SessionFailed
			sess.FailureReason = "segment incomplete after restart"
			if !info.EndTime.IsZero() {
				end := info.EndTime
				sess.EndTime = &end
			}
		}
		m.sessions[id] = sess
		m.used += fi.Size()
		m.persist(ctx, sess)
		return nil
	})
}

// HandleActivity opens a session on activity start and finalizes it on
// activity end. A start for a camera that already has an open session
// extends the existing one; that indicates a trigger bug upstream and is
// logged loudly rather than silently overwriting the segment.
func (m *Manager) HandleActivity(ctx context.Context, ev models.ActivityEvent) error {
	switch ev.Kind {
	case models.ActivityStarted:
		return m.startSession(ctx, ev)
	case models.ActivityEnded:
		end := ev.StartTime
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		return m.closeSession(ctx, ev.CameraID, end, "")
	default:
		return nil // ongoing keeps the session open
	}
}

func (m *Manager) startSession(ctx context.Context, ev models.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[ev.CameraID]; ok {
		slog.Error("activity started with session already open, extending",
			"camera_id", ev.CameraID)
		return nil
	}

	if err := m.ensureSpaceLocked(ctx); err != nil {
		return err
	}

	id := uuid.New()
	dir := filepath.Join(m.cfg.Dir, ev.CameraID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create camera dir: %w", err)
	}
	path := filepath.Join(dir, id.String()+".nvr")

	w, err := NewSegmentWriter(path, ev.CameraID, ev.StartTime)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}

	sess := &models.RecordingSession{
		ID:        id,
		CameraID:  ev.CameraID,
		Path:      path,
		StartTime: ev.StartTime,
		Status:    models.SessionOpen,
		CreatedAt: time.Now().UTC(),
	}
	m.open[ev.CameraID] = &activeSession{sess: sess, w: w}
	m.sessions[id] = sess
	observability.OpenSessions.Inc()

	m.persist(ctx, sess)
	m.publish(sess)
	slog.Info("recording session opened",
		"camera_id", ev.CameraID, "session_id", id, "path", path)
	return nil
}

// AppendFrame writes a frame into the camera's open session. Frames for
// cameras without a session return ErrNoSession and are simply not
// recorded. An I/O failure fails the session; the caller should also end
// the activity episode.
func (m *Manager) AppendFrame(ctx context.Context, cameraID uuid.UUID, ts time.Time, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	as, ok := m.open[cameraID]
	if !ok {
		return ErrNoSession
	}

	before := as.w.Bytes()
	if err := as.w.AppendFrame(ts, data); err != nil {
		m.failLocked(ctx, cameraID, fmt.Sprintf("segment write: %v", err))
		return fmt.Errorf("append frame: %w", err)
	}
	delta := int64(as.w.Bytes() - before)
	as.sess.Bytes += delta
	as.sess.Frames++
	m.used += delta
	observability.RecordedBytes.WithLabelValues(cameraID.String()).Add(float64(delta))
	return nil
}

func (m *Manager) closeSession(ctx context.Context, cameraID uuid.UUID, end time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx, cameraID, end, reason)
}

func (m *Manager) closeLocked(ctx context.Context, cameraID uuid.UUID, end time.Time, reason string) error {
	as, ok := m.open[cameraID]
	if !ok {
		return nil
	}
	delete(m.open, cameraID)
	observability.OpenSessions.Dec()

	sess := as.sess
	endCopy := end
	sess.EndTime = &endCopy

	if err := as.w.Close(end); err != nil {
		sess.Status = models.SessionFailed
		sess.FailureReason = fmt.Sprintf("finalize segment: %v", err)
		m.persist(ctx, sess)
		m.publish(sess)
		return fmt.Errorf("finalize segment: %w", err)
	}

	if reason != "" {
		sess.Status = models.SessionFailed
		sess.FailureReason = reason
	} else {
		sess.Status = models.SessionClosed
	}

	// The trailer added a few bytes beyond the running counter.
	if fi, err := os.Stat(sess.Path); err == nil {
		m.used += fi.Size() - sess.Bytes
		sess.Bytes = fi.Size()
	}

	m.persist(ctx, sess)
	m.publish(sess)
	slog.Info("recording session closed",
		"camera_id", cameraID, "session_id", sess.ID,
		"frames", sess.Frames, "bytes", sess.Bytes, "status", sess.Status)

	if m.archiver != nil && sess.Status == models.SessionClosed {
		go m.archive(sess)
	}
	return nil
}

// failLocked marks the camera's open session failed after an I/O error.
// The segment file is left in place without a trailer; its frames remain
// recoverable.
func (m *Manager) failLocked(ctx context.Context, cameraID uuid.UUID, reason string) {
	as, ok := m.open[cameraID]
	if !ok {
		return
	}
	delete(m.open, cameraID)
	observability.OpenSessions.Dec()

	sess := as.sess
	now := time.Now().UTC()
	sess.EndTime = &now
	sess.Status = models.SessionFailed
	sess.FailureReason = reason
	_ = as.w.Abort()

	if fi, err := os.Stat(sess.Path); err == nil {
		m.used += fi.Size() - sess.Bytes
		sess.Bytes = fi.Size()
	}

	m.persist(ctx, sess)
	m.publish(sess)
	slog.Error("recording session failed",
		"camera_id", cameraID, "session_id", sess.ID, "reason", reason)
}

// ForceClose finalizes the camera's open session outside the normal
// activity flow, e.g. camera removal or shutdown.
func (m *Manager) ForceClose(ctx context.Context, cameraID uuid.UUID, end time.Time, reason string) error {
	return m.closeSession(ctx, cameraID, end, reason)
}

// CloseAll finalizes every open session. Called on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	cams := make([]uuid.UUID, 0, len(m.open))
	for id := range m.open {
		cams = append(cams, id)
	}
	m.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range cams {
		if err := m.closeSession(ctx, id, now, ""); err != nil {
			slog.Error("closing session on shutdown", "camera_id", id, "error", err)
		}
	}
}

// ensureSpaceLocked evicts oldest closed sessions until ReserveBytes of
// headroom fits under the quota. Open and failed sessions are never
// evicted. Removal of a segment file is retried once before the
// candidate is skipped.
func (m *Manager) ensureSpaceLocked(ctx context.Context) error {
	if m.cfg.QuotaBytes <= 0 {
		return nil
	}

	for m.used+m.cfg.ReserveBytes > m.cfg.QuotaBytes {
		victim := m.oldestClosedLocked()
		if victim == nil {
			return fmt.Errorf("%w: %d bytes used, nothing evictable", ErrQuotaExceeded, m.used)
		}

		err := os.Remove(victim.Path)
		if err != nil && !os.IsNotExist(err) {
			err = os.Remove(victim.Path)
		}
		if err != nil && !os.IsNotExist(err) {
			slog.Error("evicting segment", "path", victim.Path, "error", err)
			victim.Status = models.SessionFailed
			victim.FailureReason = fmt.Sprintf("eviction failed: %v", err)
			continue
		}

		m.used -= victim.Bytes
		victim.Status = models.SessionEvicted
		observability.SessionsEvicted.Inc()
		m.persist(ctx, victim)
		m.publish(victim)
		slog.Info("evicted oldest segment for quota",
			"session_id", victim.ID, "camera_id", victim.CameraID, "bytes", victim.Bytes)
	}
	return nil
}

func (m *Manager) oldestClosedLocked() *models.RecordingSession {
	var oldest *models.RecordingSession
	for _, s := range m.sessions {
		if s.Status != models.SessionClosed || s.Archived {
			continue
		}
		if oldest == nil || s.StartTime.Before(oldest.StartTime) {
			oldest = s
		}
	}
	return oldest
}

// Run executes the retention loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.RetentionDays <= 0 {
		return
	}
	every := m.cfg.CleanupEvery
	if every <= 0 {
		every = time.Hour
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpired(ctx)
		}
	}
}

func (m *Manager) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Status == models.SessionOpen || s.StartTime.After(cutoff) {
			continue
		}
		if s.Status != models.SessionEvicted && !s.Archived {
			if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
				slog.Error("retention cleanup", "path", s.Path, "error", err)
				continue
			}
			m.used -= s.Bytes
		}
		delete(m.sessions, s.ID)
		slog.Info("expired segment removed",
			"session_id", s.ID, "camera_id", s.CameraID, "started", s.StartTime)
	}
}

// Sessions lists known sessions, newest first. cameraID filters when
// non-nil.
func (m *Manager) Sessions(cameraID *uuid.UUID) []models.RecordingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.RecordingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if cameraID != nil && s.CameraID != *cameraID {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// Session returns one session by id.
func (m *Manager) Session(id uuid.UUID) (models.RecordingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.RecordingSession{}, false
	}
	return *s, true
}

// Usage reports bytes used and the configured quota.
func (m *Manager) Usage() (used, quota int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, m.cfg.QuotaBytes
}

func (m *Manager) archive(sess *models.RecordingSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := m.archiver.Archive(ctx, sess, sess.Path); err != nil {
		slog.Error("archiving segment", "session_id", sess.ID, "error", err)
		return
	}

	// The archiver may remove the local copy; the quota tracks local
	// disk only, so release those bytes and take the session out of
	// the eviction pool.
	if _, err := os.Stat(sess.Path); os.IsNotExist(err) {
		m.mu.Lock()
		if !sess.Archived {
			sess.Archived = true
			m.used -= sess.Bytes
		}
		m.mu.Unlock()
	}
}

func (m *Manager) persist(ctx context.Context, sess *models.RecordingSession) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		slog.Error("persisting session", "session_id", sess.ID, "error", err)
	}
}

func (m *Manager) publish(sess *models.RecordingSession) {
	if m.bus == nil {
		return
	}
	cp := *sess
	m.bus.Publish(eventbus.Event{
		Type:      eventbus.EventSession,
		CameraID:  sess.CameraID,
		Timestamp: time.Now().UTC(),
		Session:   &cp,
	})
}

func nameWithoutExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
