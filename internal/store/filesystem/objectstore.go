// Package filesystem provides a filesystem-based object store backend.
package filesystem

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/leopold-dedup/internal/store"
)

const (
	// shardCount is the number of lock shards (256 = one per first byte of key).
	shardCount = 256
)

// shardedLock provides fine-grained locking based on object key.
// Instead of a global lock, we use 256 independent locks (one per key
// prefix). This allows concurrent operations on different objects.
type shardedLock struct {
	locks [shardCount]sync.RWMutex
}

// shardIndex returns the shard index for a given key.
func (sl *shardedLock) shardIndex(key string) int {
	if len(key) < 2 {
		return 0
	}
	// Fingerprint keys are hex; use the first byte to pick the shard.
	b, err := hex.DecodeString(key[:2])
	if err != nil || len(b) == 0 {
		return int(key[0])
	}
	return int(b[0])
}

// Lock acquires write lock for the given key shard.
func (sl *shardedLock) Lock(key string) {
	sl.locks[sl.shardIndex(key)].Lock()
}

// Unlock releases write lock for the given key shard.
func (sl *shardedLock) Unlock(key string) {
	sl.locks[sl.shardIndex(key)].Unlock()
}

// RLock acquires read lock for the given key shard.
func (sl *shardedLock) RLock(key string) {
	sl.locks[sl.shardIndex(key)].RLock()
}

// RUnlock releases read lock for the given key shard.
func (sl *shardedLock) RUnlock(key string) {
	sl.locks[sl.shardIndex(key)].RUnlock()
}

// ObjectStore implements store.ObjectStore using the local filesystem.
// Each namespace is a directory; objects are sharded two levels deep by
// key prefix to avoid filesystem limitations with large flat directories.
type ObjectStore struct {
	dataDir string
	logger  zerolog.Logger
	shards  shardedLock
}

// Config holds configuration for the filesystem object store.
type Config struct {
	DataDir string
}

// NewObjectStore creates a new filesystem object store backend.
func NewObjectStore(cfg Config, logger zerolog.Logger) (*ObjectStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for data dir: %w", err)
	}

	logger.Info().
		Str("data_dir", dataDir).
		Msg("filesystem object store initialized")

	return &ObjectStore{
		dataDir: dataDir,
		logger:  logger,
	}, nil
}

// objectPath generates the on-disk path for an object using 2-level
// directory sharding within the namespace directory.
//
// Example:
//
//	namespace: "chunks", key: "abcdef1234..."
//	result: {data}/chunks/ab/cd/abcdef1234...
func (s *ObjectStore) objectPath(namespace, key string) string {
	name := key
	if strings.ContainsAny(name, "/\\") {
		name = url.PathEscape(name)
	}

	if len(name) < 4 {
		return filepath.Join(s.dataDir, namespace, name)
	}

	return filepath.Join(s.dataDir, namespace, name[0:2], name[2:4], name)
}

// Create materialises an empty object. Creating an existing object is a
// no-op so that repeated creates of the same chunk stay idempotent.
func (s *ObjectStore) Create(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.shards.Lock(key)
	defer s.shards.Unlock(key)

	fullPath := s.objectPath(namespace, key)
	if _, err := os.Stat(fullPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	return f.Close()
}

// Delete removes an object from the store.
func (s *ObjectStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	s.shards.Lock(key)
	defer s.shards.Unlock(key)

	fullPath := s.objectPath(namespace, key)
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return store.ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}

	s.cleanupEmptyDirs(filepath.Dir(fullPath))

	s.logger.Debug().
		Str("namespace", namespace).
		Str("key", key).
		Msg("object deleted")

	return nil
}

// WriteAt writes buf at the given offset, creating the object if needed.
// Writing past the current end extends the object with zero bytes.
func (s *ObjectStore) WriteAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error) {
	if namespace == "" {
		return 0, store.ErrInvalidNamespace
	}

	s.shards.Lock(key)
	defer s.shards.Unlock(key)

	fullPath := s.objectPath(namespace, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open object for writing: %w", err)
	}
	defer f.Close()

	n, err := f.WriteAt(buf, int64(off))
	if err != nil {
		return uint64(n), fmt.Errorf("failed to write object: %w", err)
	}

	return uint64(n), nil
}

// ReadAt reads up to len(buf) bytes starting at the given offset. A read
// past the end of the object returns a short count, not an error.
func (s *ObjectStore) ReadAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error) {
	if namespace == "" {
		return 0, store.ErrInvalidNamespace
	}

	s.shards.RLock(key)
	defer s.shards.RUnlock(key)

	fullPath := s.objectPath(namespace, key)
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, store.ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	n, err := f.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return uint64(n), fmt.Errorf("failed to read object: %w", err)
	}

	return uint64(n), nil
}

// cleanupEmptyDirs removes empty parent directories up to the data directory.
func (s *ObjectStore) cleanupEmptyDirs(dir string) {
	for dir != s.dataDir && dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// HealthCheck verifies the store directory is accessible.
func (s *ObjectStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.dataDir); err != nil {
		return fmt.Errorf("data directory not accessible: %w", err)
	}
	return nil
}

// Ensure ObjectStore implements store.ObjectStore
var _ store.ObjectStore = (*ObjectStore)(nil)
