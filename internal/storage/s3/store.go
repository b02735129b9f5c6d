// Package s3 keeps Parquet exports of loaded datasets in an S3-compatible
// bucket through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/storage"
)

// bucketAPI is the slice of the S3 API the archive needs. Keys are full
// bucket keys, already joined with the archive prefix.
type bucketAPI interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
	StatObject(ctx context.Context, key string) (storage.ObjectInfo, error)
	RemoveObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	BucketExists(ctx context.Context) (bool, error)
	MakeBucket(ctx context.Context, region string) error
}

// Store is the dataset archive. Callers address objects with keys relative
// to the configured prefix.
type Store struct {
	api    bucketAPI
	bucket string
	keys   keyspace
}

// New connects to the archive described by cfg and optionally creates the
// bucket.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("QUERYLENS_OBJECTSTORE_BUCKET is required for the dataset archive")
	}
	api, err := dialMinio(cfg, bucket)
	if err != nil {
		return nil, err
	}
	store, err := newStore(bucket, cfg.Prefix, api)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(bucket, prefix string, api bucketAPI) (*Store, error) {
	keys, err := newKeyspace(prefix)
	if err != nil {
		return nil, err
	}
	return &Store{api: api, bucket: bucket, keys: keys}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.keys.object(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.PutObject(ctx, full, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, s.opError("put", full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	full, err := s.keys.object(key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, info, err := s.api.GetObject(ctx, full)
	if err != nil {
		return nil, storage.ObjectInfo{}, s.opError("get", full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return body, info, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.keys.object(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.StatObject(ctx, full)
	if err != nil {
		return storage.ObjectInfo{}, s.opError("stat", full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return info, nil
}

// Delete treats a missing object as already deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.keys.object(key)
	if err != nil {
		return err
	}
	if err := s.api.RemoveObject(ctx, full); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return s.opError("delete", full, err)
	}
	return nil
}

// List returns every object under prefix with keys relative to the store,
// ready to pass back to Get or Delete.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full, err := s.keys.listing(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := s.api.ListObjects(ctx, full)
	if err != nil {
		return nil, s.opError("list", full, err)
	}
	for i := range objects {
		objects[i].Key = s.keys.relative(objects[i].Key)
	}
	return objects, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("check archive bucket %q: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("archive bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("check archive bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, region); err != nil {
		return fmt.Errorf("create archive bucket %q: %w", s.bucket, err)
	}
	return nil
}

// opError names the failing object as s3://bucket/key and keeps the cause
// matchable with errors.Is.
func (s *Store) opError(op, fullKey string, err error) error {
	return fmt.Errorf("%s s3://%s/%s: %w", op, s.bucket, fullKey, err)
}

// dialMinio builds the minio client. The endpoint may be host[:port] or a
// full URL; an https URL forces TLS.
func dialMinio(cfg config.ObjectStoreConfig, bucket string) (*minioBucket, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client for %s: %w", host, err)
	}
	return &minioBucket{client: client, bucket: bucket}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("QUERYLENS_OBJECTSTORE_ENDPOINT is required for the dataset archive")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse QUERYLENS_OBJECTSTORE_ENDPOINT: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		useSSL = true
	case "http":
	default:
		return "", false, fmt.Errorf("unsupported object store scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL, nil
}
