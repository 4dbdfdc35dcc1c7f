package s3

import (
	"fmt"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("S3_ENDPOINT", " minio:9000 ")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_REGION", "")
	t.Setenv("S3_DISABLE_TLS", "true")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", cfg.Endpoint)
	assert.True(t, cfg.DisableTLS)
	assert.False(t, cfg.ForcePathStyle)
}

func TestConfigFromEnvMissing(t *testing.T) {
	t.Setenv("S3_ENDPOINT", "")
	_, err := ConfigFromEnv()
	assert.ErrorContains(t, err, "S3_ENDPOINT")

	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("S3_ACCESS_KEY", "")
	t.Setenv("S3_SECRET_KEY", "")
	_, err = ConfigFromEnv()
	assert.ErrorContains(t, err, "S3_ACCESS_KEY")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&s3types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &s3types.NotFound{})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(fmt.Errorf("timeout")))
}

func TestNilClient(t *testing.T) {
	var c *Client
	_, err := c.GetObject(t.Context(), "b", "k")
	assert.Error(t, err)
	assert.Error(t, c.PutObject(t.Context(), "b", "k", nil, "application/json"))
}
