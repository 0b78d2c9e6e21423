// Package mio provides cache storage backed by an S3-compatible MinIO bucket.
package mio

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config captures the MinIO connection and layout parameters.
type Config struct {
	Endpoint        string      `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string      `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string      `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool        `mapstructure:"use_ssl" yaml:"use_ssl"`
	Bucket          string      `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string      `mapstructure:"prefix" yaml:"prefix"`
	Retry           RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig bounds the connection attempts made by NewClient.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = time.Second
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = 30 * time.Second
	}
	return r
}

// NewClient connects to MinIO and ensures the bucket exists, retrying with
// exponential backoff.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	retry := cfg.Retry.withDefaults()

	var lastErr error
	interval := retry.InitialInterval

	for attempt := range retry.MaxRetries {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context canceled before MinIO init: %w", ctx.Err())
		}
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			lastErr = err
		} else {
			return client, nil
		}

		if attempt < retry.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
			case <-time.After(interval):
				interval = min(interval*2, retry.MaxInterval)
			}
		}
	}

	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", retry.MaxRetries, lastErr)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
