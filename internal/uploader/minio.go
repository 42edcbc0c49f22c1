package uploader

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore stores objects in a MinIO (or S3-compatible) bucket via minio-go
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioStore creates a MinIO client. The endpoint may carry an http:// or
// https:// scheme, which then overrides UseSSL.
func NewMinioStore(cfg StoreConfig) (*MinioStore, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// splitEndpoint strips a URL scheme from endpoint, deriving TLS from it
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		switch u.Scheme {
		case "https":
			return u.Host, true
		case "http":
			return u.Host, false
		}
	}
	return strings.TrimRight(endpoint, "/"), useSSL
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, obj PutInput) error {
	size := obj.Size
	if size <= 0 {
		size = -1
	}
	opts := minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		UserMetadata: obj.Metadata,
	}
	if _, err := s.client.PutObject(ctx, s.bucket, obj.Key, obj.Body, size, opts); err != nil {
		return fmt.Errorf("put object %s: %w", obj.Key, err)
	}
	return nil
}

// List walks the bucket recursively. Metadata comes from the listing when the
// server supports it, otherwise from a stat per object.
func (s *MinioStore) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, obj.Err)
		}

		md := map[string]string(obj.UserMetadata)
		if len(md) == 0 {
			stat, err := s.client.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, fmt.Errorf("stat object %s: %w", obj.Key, err)
			}
			md = stat.UserMetadata
		}

		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			Metadata:     md,
		})
	}
	return out, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}
