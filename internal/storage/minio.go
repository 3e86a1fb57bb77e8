// Package storage offloads snapshot content to object storage. Compaction
// archives each snapshot it is about to prune, so full content stays
// retrievable even after the database row is gone.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quillvault/quillvault/internal/config"
	"github.com/quillvault/quillvault/internal/document"
)

// SnapshotArchive is a thin wrapper around the MinIO client.
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

// NewSnapshotArchive creates the archive client and ensures the bucket
// exists.
func NewSnapshotArchive(cfg *config.MinIOConfig) (*SnapshotArchive, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	a := &SnapshotArchive{client: mc, bucket: cfg.Bucket}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		exist, xerr := mc.BucketExists(ctx, a.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return a, nil
}

func objectKey(s *document.Snapshot) string {
	return fmt.Sprintf("%s/%s.json", s.DocID, s.ID)
}

// Archive uploads the full snapshot row as JSON under <docId>/<snapId>.json.
func (a *SnapshotArchive) Archive(ctx context.Context, s *document.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.ID, err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, objectKey(s), bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive snapshot %s: %w", s.ID, err)
	}
	return nil
}

// Fetch retrieves a previously archived snapshot.
func (a *SnapshotArchive) Fetch(ctx context.Context, docID, snapID string) (*document.Snapshot, error) {
	key := fmt.Sprintf("%s/%s.json", docID, snapID)
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	var s document.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode archived snapshot %s: %w", snapID, err)
	}
	return &s, nil
}
