package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStorage keeps blobs in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStorage returns an empty MemoryStorage serving URLs under baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &MemoryStorage{objects: make(map[string]memoryObject), baseURL: baseURL}
}

// Put reads exactly size bytes from body.
func (m *MemoryStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if size <= 0 {
		return Object{}, ErrEmptyObject
	}
	if err := ctx.Err(); err != nil {
		return Object{}, fmt.Errorf("%w: upload object", ErrOperationCanceled)
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, body, size)
	if err != nil {
		return Object{}, fmt.Errorf("%w: read %d of %d bytes: %v", ErrFailedToRead, n, size, err)
	}

	m.mu.Lock()
	m.objects[key] = memoryObject{data: buf.Bytes(), contentType: contentType}
	m.mu.Unlock()

	return Object{Key: key, Size: size, ContentType: contentType}, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStorage) URL(key string) string {
	return m.baseURL + strings.TrimPrefix(key, "/")
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
