// Package storage persists the camera registry and recording session
// metadata, either in Postgres or in a process-local memory store, and
// archives finalized segments to MinIO.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the registry and session metadata backend.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	CreateCamera(ctx context.Context, cam *models.Camera) error
	GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error)
	ListCameras(ctx context.Context) ([]models.Camera, error)
	UpdateCamera(ctx context.Context, cam *models.Camera) error
	DeleteCamera(ctx context.Context, id uuid.UUID) error

	SaveSession(ctx context.Context, s *models.RecordingSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error)
	ListSessions(ctx context.Context, cameraID *uuid.UUID, limit, offset int) ([]models.RecordingSession, int, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps everything in process memory. Used when no database
// is configured and in tests; the registry does not survive restarts but
// recordings are re-indexed from disk.
type MemoryStore struct {
	mu       sync.RWMutex
	cameras  map[uuid.UUID]models.Camera
	sessions map[uuid.UUID]models.RecordingSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cameras:  make(map[uuid.UUID]models.Camera),
		sessions: make(map[uuid.UUID]models.RecordingSession),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close()                         {}

func (s *MemoryStore) CreateCamera(ctx context.Context, cam *models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if cam.ID == uuid.Nil {
		cam.ID = uuid.New()
	}
	cam.CreatedAt = now
	cam.UpdatedAt = now
	s.cameras[cam.ID] = *cam
	return nil
}

func (s *MemoryStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &cam, nil
}

func (s *MemoryStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateCamera(ctx context.Context, cam *models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cameras[cam.ID]
	if !ok {
		return ErrNotFound
	}
	cam.CreatedAt = existing.CreatedAt
	cam.UpdatedAt = time.Now().UTC()
	s.cameras[cam.ID] = *cam
	return nil
}

func (s *MemoryStore) DeleteCamera(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[id]; !ok {
		return ErrNotFound
	}
	delete(s.cameras, id)
	return nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, sess *models.RecordingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, cameraID *uuid.UUID, limit, offset int) ([]models.RecordingSession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.RecordingSession
	for _, sess := range s.sessions {
		if cameraID != nil && sess.CameraID != *cameraID {
			continue
		}
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	total := len(all)
	if limit <= 0 {
		limit = 50
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}
