// Package objectstore stores rendered diagrams in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the bucket artifacts are written to.
type Config struct {
	Endpoint  string // host[:port], e.g. s3.amazonaws.com or localhost:9000
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Store implements ports.ArtifactStorePort.
type Store struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

// New creates a store client. It does not contact the backend.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("object store bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("object store access key and secret key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	return &Store{mc: mc, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", "bucket", s.bucket)
	return nil
}

// Exists reports whether key is stored. Errors other than a missing key are
// logged and read as "absent"; the caller then rewrites identical bytes.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true
	}
	if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" {
		s.logger.Warn("stat object failed, treating as absent", "key", key, "code", code, "error", err)
	}
	return false
}

// Put writes body under key with the given content type and cache control.
// Writing the same bytes again leaves one identical object.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
