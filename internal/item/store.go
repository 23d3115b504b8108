// Package item implements the public item API of the deduplicating
// store: named, mutable byte containers whose contents are split into
// fixed-size chunks, with identical chunks shared across items through
// the chunk reference counter.
package item

import (
	"github.com/rs/zerolog"

	"github.com/prn-tf/leopold-dedup/internal/chunk"
	"github.com/prn-tf/leopold-dedup/internal/fingerprint"
	"github.com/prn-tf/leopold-dedup/internal/metrics"
	"github.com/prn-tf/leopold-dedup/internal/store"
)

// NamespaceCollections is the KV namespace for collection records.
const NamespaceCollections = "collections"

// Store wires the item API to its collaborators: the chunk store
// adapter, the reference counter and the fingerprint algorithm. One
// Store serves any number of collections and items.
type Store struct {
	adapter *chunk.Adapter
	refs    *chunk.RefCounter
	algo    fingerprint.Algorithm
	kv      store.KVStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewStore creates an item store over the given object and key-value
// stores. m may be nil to disable metrics.
func NewStore(objects store.ObjectStore, kv store.KVStore, algo fingerprint.Algorithm, m *metrics.Metrics, logger zerolog.Logger) *Store {
	adapter := chunk.NewAdapter(objects, kv, logger)
	return &Store{
		adapter: adapter,
		refs:    chunk.NewRefCounter(adapter, m, logger),
		algo:    algo,
		kv:      kv,
		metrics: m,
		logger:  logger,
	}
}

// Algorithm returns the fingerprint algorithm the store addresses
// chunks with.
func (s *Store) Algorithm() fingerprint.Algorithm {
	return s.algo
}
