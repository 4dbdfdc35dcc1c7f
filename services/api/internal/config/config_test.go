package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "local", cfg.StoreDriver)
	assert.Equal(t, "shares", cfg.ShareObjectPrefix)
	assert.Equal(t, 3, cfg.AnonGenerationLimit)
	assert.Zero(t, cfg.GlobalDailyLimit)
	assert.True(t, cfg.JobsInlineFallback)
	assert.Equal(t, 2*time.Minute, cfg.JobsInlineTimeout)
	assert.Equal(t, int64(4<<20), cfg.MaxPayloadBytes())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), map[string]string{
		"STORE_DRIVER":                  " Postgres ",
		"DATABASE_DSN":                  "postgres://localhost/snapshots",
		"BLOB_BACKEND":                  "minio",
		"BLOB_BUCKET":                   "snaps",
		"MINIO_ENDPOINT":                "localhost:9000",
		"PUBLIC_BASE_URL":               "https://snap.example.test/",
		"WORKER_AUDIENCES":              "https://a.example.test,https://b.example.test",
		"GENERATION_GLOBAL_DAILY_LIMIT": "500",
	})
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "https://snap.example.test", cfg.PublicBaseURL)
	assert.Equal(t, []string{"https://a.example.test", "https://b.example.test"}, cfg.WorkerAudiences)
	assert.Equal(t, "https://a.example.test", cfg.WorkerAudience())
	assert.Equal(t, 500, cfg.GlobalDailyLimit)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn":    {"STORE_DRIVER": "postgres", "BLOB_BUCKET": "b"},
		"postgres without bucket": {"STORE_DRIVER": "postgres", "DATABASE_DSN": "postgres://x"},
		"unknown driver":          {"STORE_DRIVER": "sqlite"},
		"unknown blob backend":    {"STORE_DRIVER": "postgres", "DATABASE_DSN": "postgres://x", "BLOB_BUCKET": "b", "BLOB_BACKEND": "ftp"},
		"redis without addr":      {"QUOTA_BACKEND": "redis"},
		"signing key alone":       {"WORKER_SIGNING_KEY": "pem"},
		"zero payload":            {"MAX_PAYLOAD_MB": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFrom(context.Background(), vars)
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRelay(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateRelay())

	cfg, err = LoadFrom(context.Background(), map[string]string{
		"NATS_URL":     "nats://localhost:4222",
		"WORKER_URL":   "http://localhost:8080/v1/internal/jobs/process",
		"WORKER_TOKEN": "t",
	})
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateRelay())
}
