// Package memory provides in-memory object and key-value store backends.
// They back the test suites and can be selected for single-process runs.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/prn-tf/leopold-dedup/internal/store"
)

// ObjectStore implements store.ObjectStore with in-memory byte slices.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewObjectStore creates a new in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects: make(map[string][]byte),
	}
}

func objectKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Create materialises an empty object. Creating an existing object is a
// no-op.
func (s *ObjectStore) Create(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(namespace, key)
	if _, ok := s.objects[k]; !ok {
		s.objects[k] = nil
	}
	return nil
}

// Delete removes an object.
func (s *ObjectStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(namespace, key)
	if _, ok := s.objects[k]; !ok {
		return store.ErrObjectNotFound
	}
	delete(s.objects, k)
	return nil
}

// WriteAt writes buf at the given offset, extending the object with zero
// bytes if the offset is past the current end.
func (s *ObjectStore) WriteAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error) {
	if namespace == "" {
		return 0, store.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(namespace, key)
	data := s.objects[k]

	end := off + uint64(len(buf))
	if uint64(len(data)) < end {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:end], buf)
	s.objects[k] = data

	return uint64(len(buf)), nil
}

// ReadAt reads up to len(buf) bytes starting at the given offset. A read
// past the end of the object returns a short count.
func (s *ObjectStore) ReadAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error) {
	if namespace == "" {
		return 0, store.ErrInvalidNamespace
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k := objectKey(namespace, key)
	data, ok := s.objects[k]
	if !ok {
		return 0, store.ErrObjectNotFound
	}

	if off >= uint64(len(data)) {
		return 0, nil
	}

	n := copy(buf, data[off:])
	return uint64(n), nil
}

// Size returns the stored length of an object, for tests.
func (s *ObjectStore) Size(namespace, key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[objectKey(namespace, key)]
	return uint64(len(data)), ok
}

// Count returns the number of objects in a namespace, for tests.
func (s *ObjectStore) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	prefix := namespace + "\x00"
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

// Ensure ObjectStore implements store.ObjectStore
var _ store.ObjectStore = (*ObjectStore)(nil)

// KVStore implements store.KVStore with an in-memory map.
type KVStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		values: make(map[string][]byte),
	}
}

// Put stores value under the key, overwriting any previous value.
func (s *KVStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(value))
	copy(buf, value)
	s.values[objectKey(namespace, key)] = buf
	return nil
}

// Get returns the value stored under the key.
func (s *KVStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[objectKey(namespace, key)]
	if !ok {
		return nil, store.ErrKeyNotFound
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

// Delete removes the key.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(namespace, key)
	if _, ok := s.values[k]; !ok {
		return store.ErrKeyNotFound
	}
	delete(s.values, k)
	return nil
}

// List returns all keys in the namespace starting with prefix.
func (s *KVStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nsPrefix := namespace + "\x00"
	var keys []string
	for k := range s.values {
		if !strings.HasPrefix(k, nsPrefix) {
			continue
		}
		key := strings.TrimPrefix(k, nsPrefix)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Ensure KVStore implements store.KVStore
var _ store.KVStore = (*KVStore)(nil)
