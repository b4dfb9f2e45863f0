package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps attachments in process memory. The api server falls
// back to it when no object store is configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) Upload(ctx context.Context, subjectID, filename, contentType string, r io.Reader, size int64) (Object, error) {
	if err := checkSize(size); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return Object{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := checkSize(int64(len(data))); err != nil {
		return Object{}, err
	}

	ref := NewRef(subjectID, filename)
	m.mu.Lock()
	m.objects[ref] = memoryObject{contentType: contentType, data: data}
	m.mu.Unlock()
	return Object{Ref: ref, ContentType: contentType, Size: int64(len(data))}, nil
}

func (m *MemoryStorage) Open(ctx context.Context, ref string) (io.ReadCloser, Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, Object{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), Object{Ref: ref, ContentType: obj.contentType, Size: int64(len(obj.data))}, nil
}
