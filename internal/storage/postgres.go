package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/nvr/internal/config"
	"github.com/your-org/nvr/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cameras (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			uri TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS recording_sessions (
			id UUID PRIMARY KEY,
			camera_id UUID NOT NULL,
			path TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			bytes BIGINT NOT NULL DEFAULT 0,
			frames BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_camera_start
			ON recording_sessions (camera_id, start_time DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Cameras ---

func (s *PostgresStore) CreateCamera(ctx context.Context, cam *models.Camera) error {
	if cam.ID == uuid.Nil {
		cam.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cameras (id, name, uri, enabled) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		cam.ID, cam.Name, cam.URI, cam.Enabled,
	).Scan(&cam.CreatedAt, &cam.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	cam := &models.Camera{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, uri, enabled, created_at, updated_at FROM cameras WHERE id = $1`, id,
	).Scan(&cam.ID, &cam.Name, &cam.URI, &cam.Enabled, &cam.CreatedAt, &cam.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return cam, nil
}

func (s *PostgresStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, uri, enabled, created_at, updated_at FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []models.Camera
	for rows.Next() {
		var cam models.Camera
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.URI, &cam.Enabled, &cam.CreatedAt, &cam.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, nil
}

func (s *PostgresStore) UpdateCamera(ctx context.Context, cam *models.Camera) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE cameras SET name = $1, uri = $2, enabled = $3, updated_at = now() WHERE id = $4 RETURNING updated_at`,
		cam.Name, cam.URI, cam.Enabled, cam.ID,
	).Scan(&cam.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update camera: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCamera(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Recording sessions ---

// SaveSession upserts; the recorder saves the same session repeatedly as
// its status advances.
func (s *PostgresStore) SaveSession(ctx context.Context, sess *models.RecordingSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recording_sessions (id, camera_id, path, start_time, end_time, bytes, frames, status, failure_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			bytes = EXCLUDED.bytes,
			frames = EXCLUDED.frames,
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason`,
		sess.ID, sess.CameraID, sess.Path, sess.StartTime, sess.EndTime,
		sess.Bytes, sess.Frames, sess.Status, sess.FailureReason, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error) {
	sess := &models.RecordingSession{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, camera_id, path, start_time, end_time, bytes, frames, status, failure_reason, created_at
		 FROM recording_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.CameraID, &sess.Path, &sess.StartTime, &sess.EndTime,
		&sess.Bytes, &sess.Frames, &sess.Status, &sess.FailureReason, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, cameraID *uuid.UUID, limit, offset int) ([]models.RecordingSession, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := ""
	args := []interface{}{}
	if cameraID != nil {
		where = "WHERE camera_id = $1"
		args = append(args, *cameraID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM recording_sessions " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, camera_id, path, start_time, end_time, bytes, frames, status, failure_reason, created_at
		 FROM recording_sessions %s ORDER BY start_time DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.RecordingSession
	for rows.Next() {
		var sess models.RecordingSession
		if err := rows.Scan(&sess.ID, &sess.CameraID, &sess.Path, &sess.StartTime, &sess.EndTime,
			&sess.Bytes, &sess.Frames, &sess.Status, &sess.FailureReason, &sess.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recording_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
