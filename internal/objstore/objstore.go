// Package objstore uploads photos and KYC documents to object storage.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MaxObjectBytes bounds any single upload.
const MaxObjectBytes = 5 << 20

var (
	ErrTooLarge    = errors.New("objstore: object exceeds 5MB limit")
	ErrInvalidData = errors.New("objstore: invalid inline data")
	ErrInvalidKey  = errors.New("objstore: invalid object key")
)

// Store puts an object and returns the URL it can be fetched from. Delete of
// a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a provider.
type Config struct {
	Provider           string
	Bucket             string
	PublicBaseURL      string
	GCSCredentialsJSON string
	S3Region           string
}

// Open constructs the configured provider.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "memory":
		return NewMemory(cfg.PublicBaseURL), nil
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.PublicBaseURL, cfg.GCSCredentialsJSON)
	case "s3":
		return NewS3(ctx, cfg.Bucket, cfg.S3Region, cfg.PublicBaseURL)
	}
	return nil, fmt.Errorf("objstore: unknown provider %q", cfg.Provider)
}

func checkPut(key string, data []byte) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	if len(data) > MaxObjectBytes {
		return ErrTooLarge
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// Object is a stored blob held by Memory.
type Object struct {
	ContentType string
	Data        []byte
}

// Memory keeps objects in process; used in development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
	failErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &Memory{objects: make(map[string]Object), baseURL: baseURL}
}

// FailWith makes subsequent Put calls return err (nil restores normal behaviour).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := checkPut(key, data); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = Object{ContentType: contentType, Data: cp}
	return joinURL(m.baseURL, key), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len reports how many objects are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
