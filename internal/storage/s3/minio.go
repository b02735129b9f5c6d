package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/querylens/querylens/internal/storage"
)

// minioBucket implements bucketAPI for one bucket.
type minioBucket struct {
	client *minio.Client
	bucket string
}

func (m *minioBucket) PutObject(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{
		Key:          uploaded.Key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		ContentType:  opts.ContentType,
		LastModified: uploaded.LastModified,
		Metadata:     lowerKeys(opts.Metadata),
	}, nil
}

func (m *minioBucket) GetObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.ObjectInfo{}, translateErr(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller
	// starts streaming.
	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		return nil, storage.ObjectInfo{}, translateErr(err)
	}
	return object, objectInfo(stat), nil
}

func (m *minioBucket) StatObject(ctx context.Context, key string) (storage.ObjectInfo, error) {
	stat, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return objectInfo(stat), nil
}

func (m *minioBucket) RemoveObject(ctx context.Context, key string) error {
	return translateErr(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func (m *minioBucket) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects := []storage.ObjectInfo{}
	for listed := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if listed.Err != nil {
			return nil, translateErr(listed.Err)
		}
		objects = append(objects, objectInfo(listed))
	}
	return objects, nil
}

func (m *minioBucket) BucketExists(ctx context.Context) (bool, error) {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	return exists, translateErr(err)
}

func (m *minioBucket) MakeBucket(ctx context.Context, region string) error {
	return translateErr(m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}))
}

func objectInfo(stat minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          stat.Key,
		Size:         stat.Size,
		ETag:         stat.ETag,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
		Metadata:     lowerKeys(stat.UserMetadata),
	}
}

// lowerKeys normalizes metadata keys, which S3 returns canonicalized
// ("Dataset") after they were sent lower-case.
func lowerKeys(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		out[strings.TrimPrefix(strings.ToLower(key), "x-amz-meta-")] = value
	}
	return out
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	response := minio.ToErrorResponse(err)
	switch response.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, response.Message)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("object store timeout: %w", err)
	}
	return err
}
