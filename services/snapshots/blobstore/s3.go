package blobstore

import (
	"context"
	"errors"
	"path"
	"strings"

	gos3 "snapshotd/pkg/s3"
	"snapshotd/services/snapshots"
)

// S3 stores blobs in an S3 compatible bucket.
type S3 struct {
	client *gos3.Client
	bucket string
	prefix string
}

func NewS3(client *gos3.Client, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3) PutBlob(ctx context.Context, key string, data []byte) error {
	return s.client.PutObject(ctx, s.bucket, s.objectKey(key), data, "application/json")
}

func (s *S3) GetBlob(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key))
	if errors.Is(err, gos3.ErrNoSuchKey) {
		return nil, snapshots.ErrNotFound
	}
	return data, err
}

func (s *S3) DeleteBlob(ctx context.Context, key string) error {
	return s.client.DeleteObject(ctx, s.bucket, s.objectKey(key))
}

func (s *S3) URI(key string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}
