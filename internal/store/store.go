// Package store defines the two narrow storage primitives the item store
// is layered on: an opaque byte-object store and a key-value store. Both
// address their records by namespace and key. All higher-level semantics
// (chunking, reference counting, hash lists) live above these interfaces.
package store

import "context"

// ObjectStore stores raw byte blobs addressed by namespace and key.
// Writes at arbitrary offsets within a blob must be supported; a write
// past the current end extends the blob with intervening zero bytes.
type ObjectStore interface {
	// Create materialises an empty object. Creating an object that
	// already exists is a no-op.
	Create(ctx context.Context, namespace, key string) error

	// Delete removes an object. Returns ErrObjectNotFound if it does
	// not exist.
	Delete(ctx context.Context, namespace, key string) error

	// WriteAt writes buf at the given byte offset, creating the object
	// if necessary. Returns the number of bytes written.
	WriteAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error)

	// ReadAt reads up to len(buf) bytes starting at the given offset.
	// Returns the number of bytes read; a read past the end of the
	// object returns a short count, not an error. Returns
	// ErrObjectNotFound if the object does not exist.
	ReadAt(ctx context.Context, namespace, key string, buf []byte, off uint64) (uint64, error)
}

// KVStore stores opaque values addressed by namespace and key.
// Asynchronous gets are provided by the batch layer on top of Get.
type KVStore interface {
	// Put stores value under the key, overwriting any previous value.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Get returns the value stored under the key, or ErrKeyNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Delete removes the key. Returns ErrKeyNotFound if it is absent.
	Delete(ctx context.Context, namespace, key string) error

	// List returns all keys in the namespace starting with prefix, in
	// unspecified order. Used by collection cascade deletes.
	List(ctx context.Context, namespace, prefix string) ([]string, error)
}
