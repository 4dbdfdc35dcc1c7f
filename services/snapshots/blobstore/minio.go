package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"snapshotd/services/snapshots"
)

// MinioConfig describes a MinIO deployment.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Minio stores blobs in a MinIO bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio connects to MinIO and creates the bucket when it is missing.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Minio{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (m *Minio) objectKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return path.Join(m.prefix, key)
}

func (m *Minio) PutBlob(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.objectKey(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *Minio) GetBlob(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, normalizeMinioErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, normalizeMinioErr(err)
	}
	return data, nil
}

func (m *Minio) DeleteBlob(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(normalizeMinioErr(err), snapshots.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Minio) URI(key string) string {
	return "s3://" + m.bucket + "/" + m.objectKey(key)
}

func normalizeMinioErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return snapshots.ErrNotFound
	}
	return err
}
