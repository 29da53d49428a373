package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/render-gateway/internal/core"
)

var (
	_ core.ObjectStore = (*Memory)(nil)
	_ core.ObjectStore = (*NatsObjectStore)(nil)
)

// Memory is a process-local core.ObjectStore.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]core.Object
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]core.Object)}
}

// Head reports whether key exists.
func (m *Memory) Head(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[key]

	return ok, nil
}

// Get returns a copy of the object at key.
func (m *Memory) Get(_ context.Context, key string) (*core.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}

	return &core.Object{Data: bytes.Clone(obj.Data), ContentType: obj.ContentType}, nil
}

// Put stores a copy of data under key.
func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = core.Object{Data: bytes.Clone(data), ContentType: contentType}

	return nil
}
