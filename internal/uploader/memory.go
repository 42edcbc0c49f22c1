package uploader

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/url"
	"sort"
	"sync"
	"time"
)

// BackendMemory keeps objects in process memory, for local runs without a bucket
const BackendMemory = "memory"

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryStore is an ObjectStore held in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty in-memory bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) Bucket() string {
	return s.bucket
}

func (s *MemoryStore) EnsureBucket(context.Context) error {
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, obj PutInput) error {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("put object %s: %w", obj.Key, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put object %s: %w", obj.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = memoryObject{
		data:        data,
		contentType: obj.ContentType,
		metadata:    maps.Clone(obj.Metadata),
		modified:    time.Now(),
	}
	return nil
}

func (s *MemoryStore) List(context.Context) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ObjectInfo, 0, len(s.objects))
	for key, obj := range s.objects {
		out = append(out, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			Metadata:     maps.Clone(obj.metadata),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("presign object %s: not found", key)
	}

	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory://" + s.bucket + "/" + key + "?" + q.Encode(), nil
}

// Object returns the stored bytes and metadata for key
func (s *MemoryStore) Object(key string) ([]byte, map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, nil, false
	}
	return obj.data, maps.Clone(obj.metadata), true
}
