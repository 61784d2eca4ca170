// Package config loads cureline configuration from CURELINE_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers.
const (
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
	BlobNone       = "none"
)

// Storage selects the persistent store.
type Storage struct {
	Driver      string `env:"CURELINE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"CURELINE_SQLITE_PATH" envDefault:"cureline.db"`
	PostgresDSN string `env:"CURELINE_POSTGRES_DSN"`
}

// S3 configures the S3 blob backend. Credentials fall back to the AWS default
// chain when the keys are empty.
type S3 struct {
	Bucket          string `env:"CURELINE_BLOB_S3_BUCKET"`
	Region          string `env:"CURELINE_BLOB_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"CURELINE_BLOB_S3_ENDPOINT"`
	PathStyle       bool   `env:"CURELINE_BLOB_S3_PATH_STYLE"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
}

// Blob selects the cure record archive.
type Blob struct {
	Driver string `env:"CURELINE_BLOB_DRIVER" envDefault:"fs"`
	FSRoot string `env:"CURELINE_BLOB_FS_ROOT" envDefault:"blobdata"`
	S3     S3
}

// NATS configures status notifications. An empty URL disables publishing.
type NATS struct {
	URL string `env:"CURELINE_NATS_URL"`
}

// Retry configures the concurrency conflict retry policy.
type Retry struct {
	Initial  time.Duration `env:"CURELINE_RETRY_INITIAL" envDefault:"75ms"`
	Max      time.Duration `env:"CURELINE_RETRY_MAX" envDefault:"500ms"`
	Attempts uint          `env:"CURELINE_RETRY_ATTEMPTS" envDefault:"3"`
}

// Config is the full process configuration.
type Config struct {
	Storage    Storage
	Blob       Blob
	NATS       NATS
	Retry      Retry
	LogLevel   string        `env:"CURELINE_LOG_LEVEL" envDefault:"info"`
	SessionTTL time.Duration `env:"CURELINE_SESSION_TTL" envDefault:"30m"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver names and driver-specific requirements.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("CURELINE_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobFilesystem, BlobMemory, BlobNone:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("CURELINE_BLOB_S3_BUCKET is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Retry.Attempts == 0 {
		return fmt.Errorf("CURELINE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Retry.Initial <= 0 || c.Retry.Max < c.Retry.Initial {
		return fmt.Errorf("invalid retry window %s..%s", c.Retry.Initial, c.Retry.Max)
	}
	return nil
}
