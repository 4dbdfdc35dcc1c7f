package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"snapshotd/services/snapshots"
)

// GCS stores blobs in a Google Cloud Storage bucket. Credentials come from
// Application Default Credentials.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (g *GCS) objectKey(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GCS) PutBlob(ctx context.Context, key string, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(g.objectKey(key)).NewWriter(ctx)
	w.ContentType = "application/json; charset=utf-8"
	w.CacheControl = "private, max-age=0, no-transform"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close: %w", err)
	}
	return nil
}

func (g *GCS) GetBlob(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(g.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, snapshots.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

func (g *GCS) DeleteBlob(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(g.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (g *GCS) URI(key string) string {
	return "gs://" + g.bucket + "/" + g.objectKey(key)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
