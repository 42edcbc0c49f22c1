package uploader

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Object store backends
const (
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// ObjectStore is the bucket an Uploader writes into
type ObjectStore interface {
	// Bucket returns the bucket name used in storage locations
	Bucket() string
	// EnsureBucket creates the bucket when it does not exist
	EnsureBucket(ctx context.Context) error
	// Put stores an object, overwriting any object with the same key
	Put(ctx context.Context, obj PutInput) error
	// List returns every object in the bucket with its user metadata
	List(ctx context.Context) ([]ObjectInfo, error)
	// PresignGet returns a time-limited download URL for key
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PutInput describes one object write
type PutInput struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// StoreConfig holds object store connection settings
type StoreConfig struct {
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PathStyle bool
}

// NewObjectStore creates the configured backend
func NewObjectStore(ctx context.Context, cfg StoreConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case BackendMinio, "":
		store, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendS3:
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported object store backend %q", cfg.Backend)
	}
}
