// Package config assembles the fetcher's runtime configuration: defaults,
// then environment variables (explicit os.Getenv reads, no reflection,
// matching the teacher framework's core.Config style), then functional
// options, in that priority order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dataforge/fetcher/internal/ocerrors"
)

// Config holds every environment-tunable setting the CLI needs to build a
// run: credential provider selection, KV store backend, object storage
// backend, and SQS notification target.
type Config struct {
	AppName string // DATA_FETCHER_APP_NAME
	DevMode bool   // DATA_FETCHER_APP_DEV_MODE

	CredentialProvider string // "aws" | "environment", OC_CREDENTIAL_PROVIDER_TYPE

	KVStore   string // "memory" | "redis", OC_KV_STORE_TYPE
	RedisHost string
	RedisPort int
	RedisDB   int
	RedisPass string
	KeyPrefix string

	Storage        string // "s3" | "file", OC_STORAGE_TYPE
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3EndpointURL  string
	UseUnzip       bool
	FileStorageDir string

	SQSQueueURL string
	AWSRegion   string // takes precedence over S3Region for service clients
}

// DefaultConfig returns a Config with the fetcher's baseline defaults:
// in-memory KV store, local file storage, AWS credential provider.
func DefaultConfig() *Config {
	return &Config{
		AppName:            "data-fetcher",
		CredentialProvider: "aws",
		KVStore:            "memory",
		RedisHost:          "localhost",
		RedisPort:          6379,
		RedisDB:            0,
		KeyPrefix:          "fetcher",
		Storage:            "file",
		FileStorageDir:     "./data",
		UseUnzip:           false,
	}
}

// LoadFromEnv overlays environment variables onto c, covering the
// surface: DATA_FETCHER_APP_*, OC_CREDENTIAL_PROVIDER_*, OC_KV_STORE_*
// (including OC_KV_STORE_REDIS_{HOST,PORT,DB,PASSWORD,KEY_PREFIX}),
// OC_STORAGE_* (S3_BUCKET, S3_PREFIX, S3_REGION, S3_ENDPOINT_URL,
// USE_UNZIP), OC_SQS_QUEUE_URL, and AWS_REGION.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("DATA_FETCHER_APP_NAME"); v != "" {
		c.AppName = v
	}
	if v := os.Getenv("DATA_FETCHER_APP_DEV_MODE"); v != "" {
		c.DevMode = parseBool(v)
	}

	if v := os.Getenv("OC_CREDENTIAL_PROVIDER_TYPE"); v != "" {
		c.CredentialProvider = v
	}

	if v := os.Getenv("OC_KV_STORE_TYPE"); v != "" {
		c.KVStore = v
	}
	if v := os.Getenv("OC_KV_STORE_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("OC_KV_STORE_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		} else {
			return fmt.Errorf("config: invalid OC_KV_STORE_REDIS_PORT %q: %w", v, ocerrors.ErrInvalidConfiguration)
		}
	}
	if v := os.Getenv("OC_KV_STORE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		} else {
			return fmt.Errorf("config: invalid OC_KV_STORE_REDIS_DB %q: %w", v, ocerrors.ErrInvalidConfiguration)
		}
	}
	if v := os.Getenv("OC_KV_STORE_REDIS_PASSWORD"); v != "" {
		c.RedisPass = v
	}
	if v := os.Getenv("OC_KV_STORE_REDIS_KEY_PREFIX"); v != "" {
		c.KeyPrefix = v
	}

	if v := os.Getenv("OC_STORAGE_TYPE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv("OC_STORAGE_S3_BUCKET"); v != "" {
		c.S3Bucket = v
	}
	if v := os.Getenv("OC_STORAGE_S3_PREFIX"); v != "" {
		c.S3Prefix = v
	}
	if v := os.Getenv("OC_STORAGE_S3_REGION"); v != "" {
		c.S3Region = v
	}
	if v := os.Getenv("OC_STORAGE_S3_ENDPOINT_URL"); v != "" {
		c.S3EndpointURL = v
	}
	if v := os.Getenv("OC_STORAGE_USE_UNZIP"); v != "" {
		c.UseUnzip = parseBool(v)
	}
	if v := os.Getenv("OC_STORAGE_FILE_DIR"); v != "" {
		c.FileStorageDir = v
	}

	if v := os.Getenv("OC_SQS_QUEUE_URL"); v != "" {
		c.SQSQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWSRegion = v
	}

	return c.Validate()
}

// ResolveRegion returns the AWS region to use for service clients: the
// global AWS_REGION takes precedence over OC_STORAGE_S3_REGION.
func (c *Config) ResolveRegion() string {
	if c.AWSRegion != "" {
		return c.AWSRegion
	}
	return c.S3Region
}

// Validate checks the assembled configuration for consistency.
func (c *Config) Validate() error {
	switch c.CredentialProvider {
	case "aws", "environment":
	default:
		return fmt.Errorf("config: unknown credential provider %q: %w", c.CredentialProvider, ocerrors.ErrInvalidConfiguration)
	}

	switch c.KVStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown kv store %q: %w", c.KVStore, ocerrors.ErrInvalidConfiguration)
	}

	switch c.Storage {
	case "s3", "file":
	default:
		return fmt.Errorf("config: unknown storage backend %q: %w", c.Storage, ocerrors.ErrInvalidConfiguration)
	}

	if c.Storage == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("config: s3 storage requires OC_STORAGE_S3_BUCKET: %w", ocerrors.ErrMissingConfiguration)
	}

	return nil
}

// Option is a functional configuration override, applied after defaults
// and environment variables.
type Option func(*Config) error

// WithCredentialProvider overrides the credential provider selection.
func WithCredentialProvider(provider string) Option {
	return func(c *Config) error {
		c.CredentialProvider = provider
		return nil
	}
}

// WithKVStore overrides the KV store backend selection.
func WithKVStore(kind string) Option {
	return func(c *Config) error {
		c.KVStore = kind
		return nil
	}
}

// WithStorage overrides the object storage backend selection.
func WithStorage(kind string) Option {
	return func(c *Config) error {
		c.Storage = kind
		return nil
	}
}

// WithDevMode toggles development mode.
func WithDevMode(enabled bool) Option {
	return func(c *Config) error {
		c.DevMode = enabled
		return nil
	}
}

// New builds a Config from defaults, environment, then opts, validating
// the result.
func New(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("config: apply option: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
