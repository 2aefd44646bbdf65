// Package archive keeps a copy of every dispatched report in object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// API is the subset of the MinIO client used by Store.
type API interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store writes rendered reports to a bucket.
type Store struct {
	api    API
	bucket string
	region string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: client: %w", err)
	}
	s := NewFromAPI(cli, cfg.Bucket, cfg.Region)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromAPI creates a store over an existing client (used in tests).
func NewFromAPI(api API, bucket, region string) *Store {
	return &Store{api: api, bucket: bucket, region: region}
}

// EnsureBucket creates the bucket when missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket exists %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("archive: make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ReportKey is the object key of a weekly report.
func ReportKey(weekKey, runID string) string {
	return fmt.Sprintf("reports/%s/%s.html", weekKey, runID)
}

// PutReport stores html under ReportKey and returns the key.
func (s *Store) PutReport(ctx context.Context, weekKey, runID string, html []byte) (string, error) {
	key := ReportKey(weekKey, runID)
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(html), int64(len(html)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
		UserMetadata: map[string]string{
			"week-key": weekKey,
			"run-id":   runID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return key, nil
}
