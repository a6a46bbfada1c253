package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/fetcher/internal/ocerrors"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	assert.NoError(t, c.Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DATA_FETCHER_APP_NAME", "custom-app")
	t.Setenv("DATA_FETCHER_APP_DEV_MODE", "true")
	t.Setenv("OC_KV_STORE_TYPE", "redis")
	t.Setenv("OC_KV_STORE_REDIS_HOST", "redis.internal")
	t.Setenv("OC_KV_STORE_REDIS_PORT", "6380")
	t.Setenv("OC_STORAGE_TYPE", "s3")
	t.Setenv("OC_STORAGE_S3_BUCKET", "my-bucket")
	t.Setenv("AWS_REGION", "us-west-2")

	c := DefaultConfig()
	require.NoError(t, c.LoadFromEnv())

	assert.Equal(t, "custom-app", c.AppName)
	assert.True(t, c.DevMode)
	assert.Equal(t, "redis", c.KVStore)
	assert.Equal(t, "redis.internal", c.RedisHost)
	assert.Equal(t, 6380, c.RedisPort)
	assert.Equal(t, "s3", c.Storage)
	assert.Equal(t, "my-bucket", c.S3Bucket)
	assert.Equal(t, "us-west-2", c.AWSRegion)
}

func TestLoadFromEnvRejectsInvalidRedisPort(t *testing.T) {
	t.Setenv("OC_KV_STORE_REDIS_PORT", "not-a-number")
	c := DefaultConfig()
	err := c.LoadFromEnv()
	assert.ErrorIs(t, err, ocerrors.ErrInvalidConfiguration)
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	c := DefaultConfig()
	c.CredentialProvider = "bogus"
	assert.ErrorIs(t, c.Validate(), ocerrors.ErrInvalidConfiguration)

	c = DefaultConfig()
	c.KVStore = "bogus"
	assert.ErrorIs(t, c.Validate(), ocerrors.ErrInvalidConfiguration)

	c = DefaultConfig()
	c.Storage = "bogus"
	assert.ErrorIs(t, c.Validate(), ocerrors.ErrInvalidConfiguration)
}

func TestValidateRequiresS3BucketForS3Storage(t *testing.T) {
	c := DefaultConfig()
	c.Storage = "s3"
	assert.ErrorIs(t, c.Validate(), ocerrors.ErrMissingConfiguration)
}

func TestResolveRegionPrefersAWSRegion(t *testing.T) {
	c := DefaultConfig()
	c.S3Region = "eu-west-1"
	assert.Equal(t, "eu-west-1", c.ResolveRegion())
	c.AWSRegion = "us-east-1"
	assert.Equal(t, "us-east-1", c.ResolveRegion())
}

func TestNewAppliesOptionsAfterEnv(t *testing.T) {
	t.Setenv("OC_STORAGE_TYPE", "file")
	c, err := New(WithStorage("file"), WithKVStore("memory"), WithDevMode(true))
	require.NoError(t, err)
	assert.Equal(t, "file", c.Storage)
	assert.Equal(t, "memory", c.KVStore)
	assert.True(t, c.DevMode)
}

func TestNewPropagatesValidationFailure(t *testing.T) {
	_, err := New(WithStorage("s3"))
	assert.ErrorIs(t, err, ocerrors.ErrMissingConfiguration)
}
