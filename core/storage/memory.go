package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBucket is an in-process Bucket used by tests and local runs.
type MemoryBucket struct {
	mu      sync.RWMutex
	name    string
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, objects: make(map[string]memObject)}
}

func (b *MemoryBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.objects[key] = memObject{data: cp, contentType: contentType, updated: time.Now()}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBucket) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (b *MemoryBucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), Updated: obj.updated}, nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	delete(b.objects, key)
	return nil
}

func (b *MemoryBucket) URL(key string) string {
	return fmt.Sprintf("mem://%s/%s", b.name, key)
}

func (b *MemoryBucket) SignedURL(key string, ttl time.Duration) (string, error) {
	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("mem://%s/%s?expires=%d", b.name, key, expires), nil
}
