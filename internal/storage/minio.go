package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/nvr/internal/config"
	"github.com/your-org/nvr/internal/models"
)

// SegmentArchive uploads finalized recording segments to MinIO.
type SegmentArchive struct {
	client      *minio.Client
	bucket      string
	deleteLocal bool
}

func NewSegmentArchive(cfg config.MinIOConfig) (*SegmentArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &SegmentArchive{
		client:      client,
		bucket:      cfg.Bucket,
		deleteLocal: cfg.DeleteLocal,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *SegmentArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Key returns the object key for a session's segment.
func (a *SegmentArchive) Key(s *models.RecordingSession) string {
	return path.Join(s.CameraID.String(), s.ID.String()+".nvr")
}

// Archive uploads the segment file. With delete_local set the file is
// removed after a successful upload; listing and download then go
// through the object store.
func (a *SegmentArchive) Archive(ctx context.Context, s *models.RecordingSession, localPath string) error {
	key := a.Key(s)
	_, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload segment %s: %w", key, err)
	}
	slog.Info("segment archived", "session_id", s.ID, "key", key, "bytes", s.Bytes)

	if a.deleteLocal {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("removing archived segment", "path", localPath, "error", err)
		}
	}
	return nil
}

// Fetch streams an archived segment back, for downloads after the local
// copy was removed.
func (a *SegmentArchive) Fetch(ctx context.Context, s *models.RecordingSession) (io.ReadCloser, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, a.Key(s), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get segment %s: %w", a.Key(s), err)
	}
	return obj, nil
}

// Delete removes an archived segment, used by retention cleanup.
func (a *SegmentArchive) Delete(ctx context.Context, s *models.RecordingSession) error {
	return a.client.RemoveObject(ctx, a.bucket, a.Key(s), minio.RemoveObjectOptions{})
}

// Ping checks MinIO connectivity.
func (a *SegmentArchive) Ping(ctx context.Context) error {
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}
