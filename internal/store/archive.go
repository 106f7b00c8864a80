package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lurecage/internal/schema"
)

// S3ArchiveConfig holds S3 connection settings for the eviction archive.
type S3ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `yaml:"use_path_style"`
}

// DefaultS3ArchiveConfig returns the default archive configuration.
func DefaultS3ArchiveConfig() S3ArchiveConfig {
	return S3ArchiveConfig{
		Enabled: false,
		Region:  "us-east-1",
		Bucket:  "lurecage-archive",
		Prefix:  "sessions/",
	}
}

// Validate checks if the configuration is valid.
func (c *S3ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return errors.New("s3_archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3_archive: bucket is required")
	}
	return nil
}

// S3Archive uploads evicted sessions to S3 as gzipped JSON so bounded
// retention never silently discards captured activity.
type S3Archive struct {
	client *s3.Client
	cfg    S3ArchiveConfig
	logger *slog.Logger

	uploaded atomic.Uint64
	failed   atomic.Uint64
}

// NewS3Archive creates an S3 archiver.
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig, logger *slog.Logger) (*S3Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3_archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &S3Archive{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: logger,
	}

	logger.Info("s3 archive initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
	)

	return a, nil
}

// Archive uploads one evicted session. The key is partitioned by
// eviction date so downstream jobs can scan by day.
func (a *S3Archive) Archive(ctx context.Context, session *schema.Session) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(session); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("s3_archive: failed to encode session: %w", err)
	}
	if err := gz.Close(); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("s3_archive: failed to compress session: %w", err)
	}

	key := fmt.Sprintf("%s%s/%s.json.gz",
		a.cfg.Prefix,
		session.StartedAt.UTC().Format("2006/01/02"),
		session.ID,
	)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		a.failed.Add(1)
		return fmt.Errorf("s3_archive: failed to upload %s: %w", key, err)
	}

	a.uploaded.Add(1)
	a.logger.Debug("session archived",
		"session_id", session.ID,
		"key", key,
		"size", buf.Len(),
	)
	return nil
}

// ArchiveMetrics holds archive counters.
type ArchiveMetrics struct {
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
}

// Metrics returns archive counters.
func (a *S3Archive) Metrics() ArchiveMetrics {
	return ArchiveMetrics{
		Uploaded: a.uploaded.Load(),
		Failed:   a.failed.Load(),
	}
}

var _ Archiver = (*S3Archive)(nil)
