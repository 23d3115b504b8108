package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/prn-tf/leopold-dedup/internal/store"
)

// Store namespaces. The four persisted representations of the data model
// each live in their own namespace.
const (
	NamespaceChunks    = "chunks"
	NamespaceChunkRefs = "chunk_refs"
	NamespaceItems     = "items"
	NamespaceHashes    = "item_hashes"
)

// refRecord is the persisted refcount document: {"ref": n}.
type refRecord struct {
	Ref int32 `msgpack:"ref"`
}

// Batch is the subset of the batch façade the adapter needs: an ordered
// queue of deferred operations.
type Batch interface {
	Queue(name string, exec func(ctx context.Context) error)
}

// Adapter is the thin contract between the chunk machinery and the two
// underlying stores. Every method enqueues into the caller-supplied
// batch; nothing is observable until that batch executes. The adapter
// imposes no ordering beyond enqueue order within a single batch.
type Adapter struct {
	objects store.ObjectStore
	kv      store.KVStore
	logger  zerolog.Logger
}

// NewAdapter creates a new chunk store adapter.
func NewAdapter(objects store.ObjectStore, kv store.KVStore, logger zerolog.Logger) *Adapter {
	return &Adapter{
		objects: objects,
		kv:      kv,
		logger:  logger,
	}
}

// ChunkCreate enqueues creation of the chunk object for fp. Creating an
// existing chunk is a no-op.
func (a *Adapter) ChunkCreate(fp string, b Batch) {
	b.Queue("chunk-create", func(ctx context.Context) error {
		return a.objects.Create(ctx, NamespaceChunks, fp)
	})
}

// ChunkWrite enqueues a write of buf at off within the chunk at fp.
func (a *Adapter) ChunkWrite(fp string, buf []byte, off uint64, b Batch) {
	b.Queue("chunk-write", func(ctx context.Context) error {
		n, err := a.objects.WriteAt(ctx, NamespaceChunks, fp, buf, off)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", fp, err)
		}
		if n != uint64(len(buf)) {
			return fmt.Errorf("chunk %s: short write (%d of %d bytes)", fp, n, len(buf))
		}
		return nil
	})
}

// ChunkRead enqueues a read of len(buf) bytes at off from the chunk at
// fp. A missing chunk or a short read leaves the remainder of buf
// zeroed; reads never fail at the end of a chunk.
func (a *Adapter) ChunkRead(fp string, buf []byte, off uint64, b Batch) {
	b.Queue("chunk-read", func(ctx context.Context) error {
		n, err := a.objects.ReadAt(ctx, NamespaceChunks, fp, buf, off)
		if err != nil {
			if errors.Is(err, store.ErrObjectNotFound) {
				zero(buf)
				return nil
			}
			return fmt.Errorf("chunk %s: %w", fp, err)
		}
		zero(buf[n:])
		return nil
	})
}

// ChunkDelete enqueues removal of the chunk object at fp.
func (a *Adapter) ChunkDelete(fp string, b Batch) {
	b.Queue("chunk-delete", func(ctx context.Context) error {
		if err := a.objects.Delete(ctx, NamespaceChunks, fp); err != nil {
			if errors.Is(err, store.ErrObjectNotFound) {
				return nil
			}
			return fmt.Errorf("chunk %s: %w", fp, err)
		}
		return nil
	})
}

// RefGet enqueues a read of the refcount record for fp. A missing record
// reads as zero.
func (a *Adapter) RefGet(fp string, out *int32, b Batch) {
	b.Queue("ref-get", func(ctx context.Context) error {
		value, err := a.kv.Get(ctx, NamespaceChunkRefs, fp)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				*out = 0
				return nil
			}
			return fmt.Errorf("refcount %s: %w", fp, err)
		}

		var rec refRecord
		if err := msgpack.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("refcount %s: %w", fp, err)
		}
		*out = rec.Ref
		return nil
	})
}

// RefPut enqueues an overwrite of the refcount record for fp.
func (a *Adapter) RefPut(fp string, n int32, b Batch) {
	b.Queue("ref-put", func(ctx context.Context) error {
		value, err := msgpack.Marshal(refRecord{Ref: n})
		if err != nil {
			return fmt.Errorf("refcount %s: %w", fp, err)
		}
		return a.kv.Put(ctx, NamespaceChunkRefs, fp, value)
	})
}

// RefDelete enqueues removal of the refcount record for fp. A missing
// record is not an error.
func (a *Adapter) RefDelete(fp string, b Batch) {
	b.Queue("ref-delete", func(ctx context.Context) error {
		if err := a.kv.Delete(ctx, NamespaceChunkRefs, fp); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("refcount %s: %w", fp, err)
		}
		return nil
	})
}

// ItemPut enqueues a write of the serialized item record at path.
func (a *Adapter) ItemPut(path string, value []byte, b Batch) {
	b.Queue("item-put", func(ctx context.Context) error {
		return a.kv.Put(ctx, NamespaceItems, path, value)
	})
}

// ItemGet enqueues an asynchronous fetch of the item record at path. The
// callback is invoked during batch execution with the raw record bytes.
func (a *Adapter) ItemGet(path string, callback func(value []byte) error, b Batch) {
	b.Queue("item-get", func(ctx context.Context) error {
		value, err := a.kv.Get(ctx, NamespaceItems, path)
		if err != nil {
			return fmt.Errorf("item %s: %w", path, err)
		}
		return callback(value)
	})
}

// ItemDelete enqueues removal of the item record at path.
func (a *Adapter) ItemDelete(path string, b Batch) {
	b.Queue("item-delete", func(ctx context.Context) error {
		if err := a.kv.Delete(ctx, NamespaceItems, path); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("item %s: %w", path, err)
		}
		return nil
	})
}

// HashesPut enqueues a write of the serialized hash-list record at path.
func (a *Adapter) HashesPut(path string, value []byte, b Batch) {
	b.Queue("hashes-put", func(ctx context.Context) error {
		return a.kv.Put(ctx, NamespaceHashes, path, value)
	})
}

// HashesGet enqueues a fetch of the hash-list record at path. The
// callback receives nil when no record exists (a fresh item).
func (a *Adapter) HashesGet(path string, callback func(value []byte) error, b Batch) {
	b.Queue("hashes-get", func(ctx context.Context) error {
		value, err := a.kv.Get(ctx, NamespaceHashes, path)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return callback(nil)
			}
			return fmt.Errorf("hash list %s: %w", path, err)
		}
		return callback(value)
	})
}

// HashesDelete enqueues removal of the hash-list record at path.
func (a *Adapter) HashesDelete(path string, b Batch) {
	b.Queue("hashes-delete", func(ctx context.Context) error {
		if err := a.kv.Delete(ctx, NamespaceHashes, path); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("hash list %s: %w", path, err)
		}
		return nil
	})
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
