package item

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/chunk"
	"github.com/prn-tf/leopold-dedup/internal/domain"
	"github.com/prn-tf/leopold-dedup/internal/store"
)

// Collection is a named container of items. Each item belongs to
// exactly one collection; deleting the collection deletes its items.
type Collection struct {
	id    domain.ID
	name  string
	store *Store
}

// CreateCollection creates a collection and enqueues persistence of its
// record. The handle is usable immediately; the record becomes durable
// when the batch executes.
func (s *Store) CreateCollection(name string, b *batch.Batch) (*Collection, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c := &Collection{
		id:    domain.NewID(),
		name:  name,
		store: s,
	}

	value, err := msgpack.Marshal(collectionRecord{
		ID:   c.id.Bytes(),
		Name: c.name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize collection: %w", err)
	}

	b.Queue("collection-put", func(ctx context.Context) error {
		return s.kv.Put(ctx, NamespaceCollections, name, value)
	})

	return c, nil
}

// CollectionPromise resolves to a collection handle once the batch the
// fetch was enqueued on has executed.
type CollectionPromise struct {
	collection *Collection
}

// Collection returns the fetched handle, or nil if the batch has not
// executed successfully yet.
func (p *CollectionPromise) Collection() *Collection {
	return p.collection
}

// GetCollection enqueues a fetch of the collection record. The returned
// promise resolves during batch execution.
func (s *Store) GetCollection(name string, b *batch.Batch) *CollectionPromise {
	p := &CollectionPromise{}

	b.Queue("collection-get", func(ctx context.Context) error {
		value, err := s.kv.Get(ctx, NamespaceCollections, name)
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}

		var rec collectionRecord
		if err := msgpack.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		id, err := domain.IDFromBytes(rec.ID)
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}

		p.collection = &Collection{id: id, name: rec.Name, store: s}
		return nil
	})

	return p
}

// ID returns the collection's identity.
func (c *Collection) ID() domain.ID {
	return c.id
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// Delete enqueues deletion of the collection and, transitively, of
// every item it contains. Each item's chunks are released before its
// records are removed.
func (c *Collection) Delete(b *batch.Batch) {
	b.Queue("collection-delete", func(ctx context.Context) error {
		prefix := "/" + c.name + "/"
		paths, err := c.store.kv.List(ctx, chunk.NamespaceItems, prefix)
		if err != nil {
			return fmt.Errorf("collection %s: %w", c.name, err)
		}

		for _, path := range paths {
			name := strings.TrimPrefix(path, prefix)

			sub := b.Sub()
			promise := c.GetItem(name, sub)
			if err := sub.Execute(ctx); err != nil {
				return err
			}

			sub = b.Sub()
			promise.Item().Delete(sub)
			if err := sub.Execute(ctx); err != nil {
				return err
			}
		}

		if err := c.store.kv.Delete(ctx, NamespaceCollections, c.name); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("collection %s: %w", c.name, err)
		}
		return nil
	})
}

// itemPath builds the shared KV key for an item's records.
func itemPath(collection, name string) string {
	return "/" + collection + "/" + name
}
