// Package blobstore stores opaque objects under slash-separated keys. It
// defines the Store interface, an S3 implementation and an in-memory
// implementation for tests and development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrTooLarge   = errors.New("object exceeds maximum allowed size")
	ErrInvalidKey = errors.New("invalid object key")
)

// MaxObjectSize is the largest object accepted (512 MB).
const MaxObjectSize = 512 * 1024 * 1024

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	SHA256      string            `json:"sha256,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store is the contract for object storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, meta map[string]string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)
}

// ValidateKey rejects empty keys, leading slashes and parent references.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// readLimited buffers body and hashes it, failing past MaxObjectSize.
func readLimited(body io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxObjectSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading object: %w", err)
	}
	if int64(len(data)) > MaxObjectSize {
		return nil, "", ErrTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

type storedObject struct {
	info ObjectInfo
	data []byte
}

// MemoryStore is a thread-safe, in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, body io.Reader, meta map[string]string) (*ObjectInfo, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, sum, err := readLimited(body)
	if err != nil {
		return nil, err
	}
	info := ObjectInfo{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		SHA256:      sum,
		Metadata:    meta,
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{info: info, data: data}
	s.mu.Unlock()

	out := info
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.data)), &info, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// List returns objects under prefix ordered by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ObjectInfo
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			info := obj.info
			out = append(out, &info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
