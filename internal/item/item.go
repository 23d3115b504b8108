package item

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/chunk"
	"github.com/prn-tf/leopold-dedup/internal/domain"
	"github.com/prn-tf/leopold-dedup/internal/fingerprint"
)

// OptimalAccessSize is the access size at which item IO performs best.
const OptimalAccessSize = 512 * 1024

// Item is a named, mutable byte container inside a collection. Its
// contents are split into chunks of a fixed, item-scoped size; each
// chunk is addressed by its fingerprint and shared with every other
// item holding identical bytes.
//
// An item handle is not safe for concurrent use. The intended model is
// one logical writer per item at a time.
type Item struct {
	id           domain.ID
	name         string
	collection   *Collection
	credentials  *domain.Credentials
	distribution *domain.Distribution
	status       domain.ItemStatus

	// chunkSize is fixed for the item's lifetime once the first write
	// succeeded. Zero means not yet set.
	chunkSize uint64

	// hashes is the ordered fingerprint list, one entry per chunk
	// position. Refreshed from storage before every IO operation.
	hashes []string

	wrote  bool
	store  *Store
	path   string
	logger zerolog.Logger
}

// CreateItem creates an item in the collection and enqueues persistence
// of its record. Names must be non-empty and must not contain '/'. A
// nil distribution selects round-robin placement. The chunk size must
// be set with SetChunkSize before the first write.
func (c *Collection) CreateItem(name string, distribution *domain.Distribution, b *batch.Batch) (*Item, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if distribution == nil {
		distribution = domain.NewDistribution(domain.DistributionRoundRobin)
	}

	now := domain.NowMicro()
	i := &Item{
		id:           domain.NewID(),
		name:         name,
		collection:   c,
		credentials:  domain.NewCredentials(),
		distribution: distribution,
		status: domain.ItemStatus{
			ModificationTime: now,
			Age:              now,
		},
		store:  c.store,
		path:   itemPath(c.name, name),
		logger: c.store.logger.With().Str("item", itemPath(c.name, name)).Logger(),
	}

	value, err := i.serialize(b.Semantics())
	if err != nil {
		return nil, err
	}
	c.store.adapter.ItemPut(i.path, value, b)

	return i, nil
}

// Promise resolves to an item handle once the batch the fetch was
// enqueued on has executed.
type Promise struct {
	item *Item
}

// Item returns the fetched handle, or nil if the batch has not executed
// successfully yet.
func (p *Promise) Item() *Item {
	return p.item
}

// GetItem enqueues an asynchronous fetch of the item record. The
// returned promise is resolved during batch execution; the handle is
// published only after the record has been deserialized.
func (c *Collection) GetItem(name string, b *batch.Batch) *Promise {
	p := &Promise{}
	path := itemPath(c.name, name)

	c.store.adapter.ItemGet(path, func(value []byte) error {
		i, err := c.itemFromRecord(value)
		if err != nil {
			return fmt.Errorf("item %s: %w", path, err)
		}
		p.item = i
		return nil
	}, b)

	return p
}

// itemFromRecord rebuilds an item handle from its persisted record and
// attaches the store collaborators. The chunk size is not part of the
// record; callers must set it before IO.
func (c *Collection) itemFromRecord(value []byte) (*Item, error) {
	var rec itemRecord
	if err := msgpack.Unmarshal(value, &rec); err != nil {
		return nil, err
	}

	id, err := domain.IDFromBytes(rec.ID)
	if err != nil {
		return nil, err
	}

	i := &Item{
		id:           id,
		name:         rec.Name,
		collection:   c,
		credentials:  rec.Credentials,
		distribution: rec.Distribution,
		store:        c.store,
		path:         itemPath(c.name, rec.Name),
		logger:       c.store.logger.With().Str("item", itemPath(c.name, rec.Name)).Logger(),
	}
	if rec.Status != nil {
		i.status.Size = uint64(rec.Status.Size)
		i.status.ModificationTime = rec.Status.ModificationTime
		i.status.Age = domain.NowMicro()
	}
	return i, nil
}

// serialize renders the persisted item record. The status sub-document
// is only included under serial semantics, where it can be kept
// coherent.
func (i *Item) serialize(semantics batch.Semantics) ([]byte, error) {
	rec := itemRecord{
		ID:           i.id.Bytes(),
		Collection:   i.collection.id.Bytes(),
		Name:         i.name,
		Credentials:  i.credentials,
		Distribution: i.distribution,
	}
	if semantics.Concurrency == batch.ConcurrencyNone {
		rec.Status = &statusRecord{
			Size:             int64(i.status.Size),
			ModificationTime: i.status.ModificationTime,
		}
	}

	value, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize item: %w", err)
	}
	return value, nil
}

// ID returns the item's identity.
func (i *Item) ID() domain.ID {
	return i.id
}

// Name returns the item's name.
func (i *Item) Name() string {
	return i.name
}

// Collection returns the collection the item belongs to.
func (i *Item) Collection() *Collection {
	return i.collection
}

// Credentials returns the item's credentials document.
func (i *Item) Credentials() *domain.Credentials {
	return i.credentials
}

// Distribution returns the item's distribution document.
func (i *Item) Distribution() *domain.Distribution {
	return i.distribution
}

// ChunkSize returns the item's chunk size, or zero if not yet set.
func (i *Item) ChunkSize() uint64 {
	return i.chunkSize
}

// Hashes returns a copy of the item's in-memory hash list.
func (i *Item) Hashes() []string {
	hashes := make([]string, len(i.hashes))
	copy(hashes, i.hashes)
	return hashes
}

// SetChunkSize sets the chunk size. It may only be called before the
// first write; afterwards the chunk size is immutable for the item's
// lifetime. The chunk size is not persisted with the item record, so a
// freshly fetched handle needs it set again before IO.
func (i *Item) SetChunkSize(size uint64) error {
	if size == 0 {
		return ErrInvalidChunkSize
	}
	if size == i.chunkSize {
		return nil
	}
	if i.wrote || len(i.hashes) > 0 {
		return ErrChunkSizeImmutable
	}
	i.chunkSize = size
	return nil
}

// Size returns the item's logical size as recorded in its status. The
// deduplicating write path does not maintain this field; it reflects
// the value set at creation or via SetSize.
func (i *Item) Size() uint64 {
	return i.status.Size
}

// SetSize records the item's logical size.
func (i *Item) SetSize(size uint64) {
	i.status.Age = domain.NowMicro()
	i.status.Size = size
}

// ModificationTime returns the recorded modification time in
// microseconds since the epoch.
func (i *Item) ModificationTime() int64 {
	return i.status.ModificationTime
}

// SetModificationTime records a modification time. Earlier times than
// the one already recorded are ignored.
func (i *Item) SetModificationTime(modificationTime int64) {
	i.status.Age = domain.NowMicro()
	if modificationTime > i.status.ModificationTime {
		i.status.ModificationTime = modificationTime
	}
}

// RefreshStatus is a no-op in the deduplicating variant: there is no
// single underlying object to take size and modification time from.
func (i *Item) RefreshStatus(b *batch.Batch) {
	_ = b
}

// PhysicalSize returns the deduplicated size of the item: the number of
// distinct fingerprints in its hash list times the chunk size.
func (i *Item) PhysicalSize() uint64 {
	unique := make(map[string]struct{}, len(i.hashes))
	for _, h := range i.hashes {
		unique[h] = struct{}{}
	}
	return uint64(len(unique)) * i.chunkSize
}

// refreshHashes replaces the in-memory hash list with the persisted one.
// A missing record (fresh item) leaves the in-memory list untouched.
func (i *Item) refreshHashes(ctx context.Context, b *batch.Batch) error {
	sub := b.Sub()
	i.store.adapter.HashesGet(i.path, func(value []byte) error {
		if value == nil {
			return nil
		}
		var rec hashListRecord
		if err := msgpack.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("hash list %s: %w", i.path, err)
		}
		i.hashes = rec.Hashes
		return nil
	}, sub)
	return sub.Execute(ctx)
}

// persistHashes replaces the persisted hash-list record with the
// current in-memory list.
func (i *Item) persistHashes(ctx context.Context, b *batch.Batch) error {
	value, err := msgpack.Marshal(&hashListRecord{Hashes: i.hashes})
	if err != nil {
		return fmt.Errorf("failed to serialize hash list: %w", err)
	}

	sub := b.Sub()
	i.store.adapter.HashesPut(i.path, value, sub)
	return sub.Execute(ctx)
}

// Write enqueues a write of data at the given byte offset. The write is
// translated into whole-chunk operations: partially touched first and
// last chunks are read-modified-written, every assembled chunk is
// fingerprinted, and chunks whose content already exists anywhere in
// the store are shared instead of stored again. Writing past the end of
// the item extends it; intervening holes are filled with zero chunks
// that all share one fingerprint.
//
// bytesWritten, if non-nil, receives the number of bytes the caller
// supplied once the batch has executed. The item's logical status is
// not updated by deduplicated writes.
func (i *Item) Write(data []byte, offset uint64, bytesWritten *uint64, b *batch.Batch) {
	b.Queue("item-write", func(ctx context.Context) error {
		start := time.Now()
		if err := i.write(ctx, data, offset, bytesWritten, b); err != nil {
			i.store.metrics.RecordItemOperation("write", "error", time.Since(start).Seconds(), 0)
			return err
		}
		i.store.metrics.RecordItemOperation("write", "ok", time.Since(start).Seconds(), uint64(len(data)))
		return nil
	})
}

func (i *Item) write(ctx context.Context, data []byte, offset uint64, bytesWritten *uint64, b *batch.Batch) error {
	if i.chunkSize == 0 {
		return ErrChunkSizeUnset
	}
	if err := i.refreshHashes(ctx, b); err != nil {
		return err
	}

	if len(data) == 0 {
		if bytesWritten != nil {
			*bytesWritten = 0
		}
		return nil
	}

	cs := i.chunkSize
	plan := chunk.NewPlan(offset, uint64(len(data)), cs, uint64(len(i.hashes)))

	// A write starting past the current end leaves a hole; materialise
	// it as zero chunks sharing a single fingerprint.
	if plan.FirstChunk > uint64(len(i.hashes)) {
		zeroChunk := make([]byte, cs)
		zeroFP := fingerprint.Sum(i.store.algo, zeroChunk)
		for uint64(len(i.hashes)) < plan.FirstChunk {
			if _, err := i.store.refs.Acquire(ctx, zeroFP, func() []byte { return zeroChunk }, b); err != nil {
				return err
			}
			i.hashes = append(i.hashes, zeroFP)
		}
	}

	// Preservation reads for the partially touched first and last
	// chunks. Ranges beyond the existing chunks are zero-filled.
	var headBuf, tailBuf []byte
	sub := b.Sub()
	if preserved, fromExisting := plan.HeadPreserved(); preserved {
		headBuf = make([]byte, plan.ChunkOffset)
		if fromExisting {
			i.store.adapter.ChunkRead(i.hashes[plan.FirstChunk], headBuf, 0, sub)
		}
	}
	if preserved, fromExisting := plan.TailPreserved(); preserved {
		tailBuf = make([]byte, plan.Remaining)
		if fromExisting {
			i.store.adapter.ChunkRead(i.hashes[plan.LastChunk], tailBuf, cs-plan.Remaining, sub)
		}
	}
	if err := sub.Execute(ctx); err != nil {
		return err
	}

	hashCtx := i.store.algo.NewContext()

	for rel := uint64(0); rel < plan.Chunks; rel++ {
		assembled := make([]byte, cs)

		dst := uint64(0)
		if rel == 0 {
			copy(assembled, headBuf)
			dst = plan.ChunkOffset
		}
		bufStart, bufEnd := plan.BufferRange(rel)
		copy(assembled[dst:], data[bufStart:bufEnd])
		if rel == plan.Chunks-1 && plan.Remaining > 0 {
			copy(assembled[cs-plan.Remaining:], tailBuf)
		}

		hashCtx.Reset()
		hashCtx.Update(assembled)
		fp := hashCtx.Finalize()

		wasNew, err := i.store.refs.Acquire(ctx, fp, func() []byte { return assembled }, b)
		if err != nil {
			return err
		}
		if !wasNew {
			i.store.metrics.RecordDedupBytesSaved(cs)
		}

		// The position's previous reference is dropped even when the
		// fingerprint is unchanged; the acquire above already took the
		// replacement reference, keeping refcounts equal to hash-list
		// occurrences.
		index := plan.FirstChunk + rel
		if rel < plan.OldChunks {
			if err := i.store.refs.Release(ctx, i.hashes[index], b); err != nil {
				return err
			}
		}
		if index < uint64(len(i.hashes)) {
			i.hashes[index] = fp
		} else {
			i.hashes = append(i.hashes, fp)
		}
	}

	if err := i.persistHashes(ctx, b); err != nil {
		return err
	}

	i.wrote = true
	if bytesWritten != nil {
		*bytesWritten = uint64(len(data))
	}

	i.logger.Debug().
		Uint64("offset", offset).
		Int("length", len(data)).
		Uint64("chunks", plan.Chunks).
		Msg("item written")

	return nil
}

// Read enqueues a read of len(buf) bytes at the given byte offset.
// Positions past the end of the item read as zero bytes; a read never
// fails at end of file. bytesRead, if non-nil, receives the number of
// bytes placed into buf once the batch has executed.
func (i *Item) Read(buf []byte, offset uint64, bytesRead *uint64, b *batch.Batch) {
	b.Queue("item-read", func(ctx context.Context) error {
		start := time.Now()
		if err := i.read(ctx, buf, offset, bytesRead, b); err != nil {
			i.store.metrics.RecordItemOperation("read", "error", time.Since(start).Seconds(), 0)
			return err
		}
		i.store.metrics.RecordItemOperation("read", "ok", time.Since(start).Seconds(), uint64(len(buf)))
		return nil
	})
}

func (i *Item) read(ctx context.Context, buf []byte, offset uint64, bytesRead *uint64, b *batch.Batch) error {
	if i.chunkSize == 0 {
		return ErrChunkSizeUnset
	}
	if err := i.refreshHashes(ctx, b); err != nil {
		return err
	}

	clear(buf)
	if len(buf) == 0 {
		if bytesRead != nil {
			*bytesRead = 0
		}
		return nil
	}

	plan := chunk.NewPlan(offset, uint64(len(buf)), i.chunkSize, uint64(len(i.hashes)))

	sub := b.Sub()
	dst := uint64(0)
	for rel := uint64(0); rel < plan.Chunks; rel++ {
		from, to := plan.ChunkRange(rel)
		part := to - from

		index := plan.FirstChunk + rel
		if index < uint64(len(i.hashes)) {
			i.store.adapter.ChunkRead(i.hashes[index], buf[dst:dst+part], from, sub)
		}
		dst += part
	}
	if err := sub.Execute(ctx); err != nil {
		return err
	}

	if bytesRead != nil {
		*bytesRead = uint64(len(buf))
	}
	return nil
}

// Delete enqueues deletion of the item: every fingerprint in its hash
// list is released (reclaiming chunks whose count reaches zero), then
// the item record and the hash-list record are removed. The releases
// are observed before the records disappear.
func (i *Item) Delete(b *batch.Batch) {
	b.Queue("item-delete", func(ctx context.Context) error {
		start := time.Now()
		if err := i.delete(ctx, b); err != nil {
			i.store.metrics.RecordItemOperation("delete", "error", time.Since(start).Seconds(), 0)
			return err
		}
		i.store.metrics.RecordItemOperation("delete", "ok", time.Since(start).Seconds(), 0)
		return nil
	})
}

func (i *Item) delete(ctx context.Context, b *batch.Batch) error {
	if err := i.refreshHashes(ctx, b); err != nil {
		return err
	}

	for _, fp := range i.hashes {
		if err := i.store.refs.Release(ctx, fp, b); err != nil {
			return err
		}
	}

	sub := b.Sub()
	i.store.adapter.ItemDelete(i.path, sub)
	i.store.adapter.HashesDelete(i.path, sub)
	if err := sub.Execute(ctx); err != nil {
		return err
	}

	i.hashes = nil

	i.logger.Debug().Msg("item deleted")
	return nil
}
