package item

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/chunk"
	"github.com/prn-tf/leopold-dedup/internal/fingerprint"
	"github.com/prn-tf/leopold-dedup/internal/store/memory"
)

type testEnv struct {
	objects    *memory.ObjectStore
	kv         *memory.KVStore
	store      *Store
	collection *Collection
	batch      *batch.Batch
	ctx        context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		objects: memory.NewObjectStore(),
		kv:      memory.NewKVStore(),
		ctx:     context.Background(),
	}
	e.store = NewStore(e.objects, e.kv, fingerprint.Default(), nil, zerolog.Nop())
	e.batch = batch.New(batch.DefaultSemantics(), zerolog.Nop())

	collection, err := e.store.CreateCollection("test-collection-dedup", e.batch)
	require.NoError(t, err)
	require.NoError(t, e.batch.Execute(e.ctx))
	e.collection = collection

	return e
}

func (e *testEnv) newItem(t *testing.T, name string, chunkSize uint64) *Item {
	t.Helper()

	it, err := e.collection.CreateItem(name, nil, e.batch)
	require.NoError(t, err)
	require.NoError(t, e.batch.Execute(e.ctx))
	require.NoError(t, it.SetChunkSize(chunkSize))
	return it
}

func (e *testEnv) write(t *testing.T, it *Item, data string, offset uint64) {
	t.Helper()

	var bytesWritten uint64
	it.Write([]byte(data), offset, &bytesWritten, e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))
	require.Equal(t, uint64(len(data)), bytesWritten)
}

func (e *testEnv) read(t *testing.T, it *Item, length int, offset uint64) string {
	t.Helper()

	buf := make([]byte, length)
	var bytesRead uint64
	it.Read(buf, offset, &bytesRead, e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))
	require.Equal(t, uint64(length), bytesRead)
	return string(buf)
}

// refcounts returns every live refcount record.
func (e *testEnv) refcounts(t *testing.T) map[string]int32 {
	t.Helper()

	keys, err := e.kv.List(e.ctx, chunk.NamespaceChunkRefs, "")
	require.NoError(t, err)

	refs := make(map[string]int32, len(keys))
	for _, fp := range keys {
		value, err := e.kv.Get(e.ctx, chunk.NamespaceChunkRefs, fp)
		require.NoError(t, err)
		var rec struct {
			Ref int32 `msgpack:"ref"`
		}
		require.NoError(t, msgpack.Unmarshal(value, &rec))
		refs[fp] = rec.Ref
	}
	return refs
}

// requireConservation checks that every live refcount equals the number
// of hash-list occurrences across the given items, and that every
// referenced chunk is materialised.
func (e *testEnv) requireConservation(t *testing.T, items ...*Item) {
	t.Helper()

	occurrences := make(map[string]int32)
	for _, it := range items {
		for _, h := range it.Hashes() {
			occurrences[h]++
		}
	}

	refs := e.refcounts(t)
	require.Equal(t, occurrences, refs)

	for fp := range occurrences {
		_, ok := e.objects.Size(chunk.NamespaceChunks, fp)
		require.True(t, ok, "chunk %s missing", fp)
	}
}

func TestItem_CreateRejectsInvalidNames(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.collection.CreateItem("", nil, e.batch)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = e.collection.CreateItem("a/b", nil, e.batch)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestItem_CreateDefaults(t *testing.T) {
	e := newTestEnv(t)

	it, err := e.collection.CreateItem("defaults", nil, e.batch)
	require.NoError(t, err)

	assert.False(t, it.ID().IsZero())
	assert.Equal(t, "defaults", it.Name())
	assert.NotNil(t, it.Credentials())
	assert.NotNil(t, it.Distribution())
	assert.Equal(t, uint64(0), it.Size())
	assert.Greater(t, it.ModificationTime(), int64(0))
	assert.Equal(t, uint64(0), it.ChunkSize())
}

func TestItem_TwoChunkWriteFullRead(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)

	assert.Equal(t, "1234567887654321", e.read(t, it, 16, 0))
	assert.Len(t, it.Hashes(), 2)
}

func TestItem_CrossChunkSliceRead(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)

	assert.Equal(t, "88", e.read(t, it, 2, 7))
}

func TestItem_PartialOverwritePreservesNeighbours(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)
	e.write(t, it, "ab", 1)

	assert.Equal(t, "1ab4567887654321", e.read(t, it, 16, 0))
}

func TestItem_TailOfSecondChunkOverwrite(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)
	e.write(t, it, "ab", 1)
	e.write(t, it, "ab", 13)

	assert.Equal(t, "1ab4567887654ab1", e.read(t, it, 16, 0))
}

func TestItem_InteriorDeduplication(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)
	e.write(t, it, "ab", 1)
	e.write(t, it, "ab", 13)
	e.write(t, it, "ab", 3)
	e.write(t, it, "ab", 10)

	assert.Equal(t, "1abab67887ab4ab1", e.read(t, it, 16, 0))

	hashes := it.Hashes()
	require.Len(t, hashes, 2)
	assert.NotEqual(t, hashes[0], hashes[1])

	e.requireConservation(t, it)
}

func TestItem_VariableChunkSizes(t *testing.T) {
	data := "1234567\x00"

	for c := uint64(1); c <= 6; c++ {
		e := newTestEnv(t)
		it := e.newItem(t, "io", c)

		e.write(t, it, data, 0)

		assert.Equal(t, data, e.read(t, it, 8, 0), "chunk size %d", c)

		want := 8 / c
		if 8%c > 0 {
			want++
		}
		assert.Len(t, it.Hashes(), int(want), "chunk size %d", c)
	}
}

func TestItem_RoundTripMisalignedOffsets(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 7)

	payload := "the quick brown fox jumps over the lazy dog"
	e.write(t, it, payload, 11)

	assert.Equal(t, payload, e.read(t, it, len(payload), 11))

	// The hole chunk before the write and the head of the first touched
	// chunk read as zeros.
	head := e.read(t, it, 11, 0)
	assert.Equal(t, string(make([]byte, 11)), head)
}

func TestItem_ZeroLengthWriteIsNoop(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)
	e.write(t, it, "", 3)

	assert.Len(t, it.Hashes(), 2)
	assert.Equal(t, "1234567887654321", e.read(t, it, 16, 0))
}

func TestItem_ReadPastEndReturnsZeros(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "12345678", 0)

	got := e.read(t, it, 16, 4)
	assert.Equal(t, "5678"+string(make([]byte, 12)), got)
}

func TestItem_SparseWriteSharesZeroChunks(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	// Writing at offset 33 leaves four hole chunks plus the written
	// chunk; the holes share one zero-chunk fingerprint.
	e.write(t, it, "ab", 33)

	hashes := it.Hashes()
	require.Len(t, hashes, 5)
	assert.Equal(t, hashes[0], hashes[1])
	assert.Equal(t, hashes[1], hashes[2])
	assert.Equal(t, hashes[2], hashes[3])
	assert.NotEqual(t, hashes[3], hashes[4])

	// Two distinct chunks: the shared zero chunk and the tail chunk.
	assert.Equal(t, 2, e.objects.Count(chunk.NamespaceChunks))
	assert.Equal(t, uint64(2*8), it.PhysicalSize())

	got := e.read(t, it, 40, 0)
	want := append(make([]byte, 33), 'a', 'b', 0, 0, 0, 0, 0)
	assert.Equal(t, string(want), got)

	e.requireConservation(t, it)
}

func TestItem_DeduplicationAcrossItems(t *testing.T) {
	e := newTestEnv(t)
	data := "aaaaaaaabbbbbbbb"

	first := e.newItem(t, "first", 8)
	second := e.newItem(t, "second", 8)

	e.write(t, first, data, 0)
	e.write(t, second, data, 0)

	// Two distinct chunk contents, stored once each.
	assert.Equal(t, 2, e.objects.Count(chunk.NamespaceChunks))

	refs := e.refcounts(t)
	for fp, ref := range refs {
		assert.Equal(t, int32(2), ref, "fingerprint %s", fp)
	}

	e.requireConservation(t, first, second)
}

func TestItem_IdenticalChunksWithinItem(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 4)

	e.write(t, it, "xyzwxyzwxyzw", 0)

	require.Len(t, it.Hashes(), 3)
	assert.Equal(t, 1, e.objects.Count(chunk.NamespaceChunks))
	assert.Equal(t, uint64(4), it.PhysicalSize())

	e.requireConservation(t, it)
}

func TestItem_PhysicalSize(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	assert.Equal(t, uint64(0), it.PhysicalSize())

	e.write(t, it, "1234567887654321", 0)
	assert.Equal(t, uint64(16), it.PhysicalSize())

	// Making both chunks identical halves the physical size.
	e.write(t, it, "1234567812345678", 0)
	assert.Equal(t, uint64(8), it.PhysicalSize())

	e.requireConservation(t, it)
}

func TestItem_OverwriteReleasesReplacedChunks(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)
	e.write(t, it, "aaaaaaaabbbbbbbb", 0)

	// The original two chunks are unreferenced and reclaimed.
	assert.Equal(t, 2, e.objects.Count(chunk.NamespaceChunks))
	assert.Len(t, e.refcounts(t), 2)

	e.requireConservation(t, it)
}

func TestItem_DeleteReclaimsChunks(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "1234567887654321", 0)

	it.Delete(e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))

	assert.Equal(t, 0, e.objects.Count(chunk.NamespaceChunks))
	assert.Empty(t, e.refcounts(t))
	assert.Empty(t, it.Hashes())

	// Both records are gone.
	_, err := e.kv.Get(e.ctx, chunk.NamespaceItems, "/test-collection-dedup/io")
	assert.Error(t, err)
	_, err = e.kv.Get(e.ctx, chunk.NamespaceHashes, "/test-collection-dedup/io")
	assert.Error(t, err)
}

func TestItem_DeleteKeepsSharedChunks(t *testing.T) {
	e := newTestEnv(t)
	data := "aaaaaaaabbbbbbbb"

	first := e.newItem(t, "first", 8)
	second := e.newItem(t, "second", 8)
	e.write(t, first, data, 0)
	e.write(t, second, data, 0)

	first.Delete(e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))

	// The survivor still reads its content.
	assert.Equal(t, data, e.read(t, second, 16, 0))
	e.requireConservation(t, second)

	second.Delete(e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))

	assert.Equal(t, 0, e.objects.Count(chunk.NamespaceChunks))
	assert.Empty(t, e.refcounts(t))
}

func TestItem_ChunkSizeImmutableAfterWrite(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	require.NoError(t, it.SetChunkSize(16))
	e.write(t, it, "1234567887654321", 0)

	err := it.SetChunkSize(8)
	assert.ErrorIs(t, err, ErrChunkSizeImmutable)
	assert.Equal(t, uint64(16), it.ChunkSize())
	assert.Equal(t, "1234567887654321", e.read(t, it, 16, 0))
}

func TestItem_ChunkSizeValidation(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	assert.ErrorIs(t, it.SetChunkSize(0), ErrInvalidChunkSize)

	// Setting the same size again is allowed at any time.
	e.write(t, it, "12345678", 0)
	assert.NoError(t, it.SetChunkSize(8))
}

func TestItem_WriteWithoutChunkSizeFails(t *testing.T) {
	e := newTestEnv(t)

	it, err := e.collection.CreateItem("unset", nil, e.batch)
	require.NoError(t, err)
	require.NoError(t, e.batch.Execute(e.ctx))

	it.Write([]byte("data"), 0, nil, e.batch)
	assert.ErrorIs(t, e.batch.Execute(e.ctx), ErrChunkSizeUnset)
}

func TestItem_HashListLengthTracksWrites(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	e.write(t, it, "12345", 0)
	assert.Len(t, it.Hashes(), 1)

	e.write(t, it, "12345678", 4)
	assert.Len(t, it.Hashes(), 2)

	e.write(t, it, "x", 31)
	assert.Len(t, it.Hashes(), 4)

	e.requireConservation(t, it)
}

func TestItem_GetPublishesHandle(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)
	e.write(t, it, "1234567887654321", 0)

	promise := e.collection.GetItem("io", e.batch)
	assert.Nil(t, promise.Item(), "handle must not be published before execution")
	require.NoError(t, e.batch.Execute(e.ctx))

	fetched := promise.Item()
	require.NotNil(t, fetched)
	assert.Equal(t, it.ID(), fetched.ID())
	assert.Equal(t, "io", fetched.Name())

	// The chunk size is not persisted; a fetched handle needs it set
	// before IO.
	require.NoError(t, fetched.SetChunkSize(8))
	assert.Equal(t, "1234567887654321", e.read(t, fetched, 16, 0))
}

func TestItem_GetMissingFails(t *testing.T) {
	e := newTestEnv(t)

	promise := e.collection.GetItem("absent", e.batch)
	assert.Error(t, e.batch.Execute(e.ctx))
	assert.Nil(t, promise.Item())
}

func TestItem_DeleteOfFetchedHandleReleasesEverything(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)
	e.write(t, it, "1234567887654321", 0)

	// A freshly fetched handle has an empty in-memory hash list; the
	// delete path must refresh it from storage before releasing.
	promise := e.collection.GetItem("io", e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))
	fetched := promise.Item()

	fetched.Delete(e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))

	assert.Equal(t, 0, e.objects.Count(chunk.NamespaceChunks))
	assert.Empty(t, e.refcounts(t))
}

func TestItem_StatusNotUpdatedByWrites(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	before := it.Size()
	e.write(t, it, "1234567887654321", 0)

	assert.Equal(t, before, it.Size())
}

func TestItem_SetModificationTimeIsMonotonic(t *testing.T) {
	e := newTestEnv(t)
	it := e.newItem(t, "io", 8)

	it.SetModificationTime(1000)
	recorded := it.ModificationTime()
	assert.GreaterOrEqual(t, recorded, int64(1000))

	it.SetModificationTime(recorded - 1)
	assert.Equal(t, recorded, it.ModificationTime())
}

func TestCollection_DeleteCascades(t *testing.T) {
	e := newTestEnv(t)

	first := e.newItem(t, "first", 8)
	second := e.newItem(t, "second", 8)
	e.write(t, first, "aaaaaaaabbbbbbbb", 0)
	e.write(t, second, "ccccccccdddddddd", 0)

	e.collection.Delete(e.batch)
	require.NoError(t, e.batch.Execute(e.ctx))

	assert.Equal(t, 0, e.objects.Count(chunk.NamespaceChunks))
	assert.Empty(t, e.refcounts(t))

	paths, err := e.kv.List(e.ctx, chunk.NamespaceItems, "/test-collection-dedup/")
	require.NoError(t, err)
	assert.Empty(t, paths)

	_, err = e.kv.Get(e.ctx, NamespaceCollections, "test-collection-dedup")
	assert.Error(t, err)
}

func TestCollection_GetPublishesHandle(t *testing.T) {
	e := newTestEnv(t)

	promise := e.store.GetCollection("test-collection-dedup", e.batch)
	assert.Nil(t, promise.Collection())
	require.NoError(t, e.batch.Execute(e.ctx))

	fetched := promise.Collection()
	require.NotNil(t, fetched)
	assert.Equal(t, e.collection.ID(), fetched.ID())
	assert.Equal(t, "test-collection-dedup", fetched.Name())
}

func TestItem_BlakeAlgorithmRoundTrip(t *testing.T) {
	algo, err := fingerprint.Get("blake2b")
	require.NoError(t, err)

	objects := memory.NewObjectStore()
	kv := memory.NewKVStore()
	s := NewStore(objects, kv, algo, nil, zerolog.Nop())
	b := batch.New(batch.DefaultSemantics(), zerolog.Nop())
	ctx := context.Background()

	collection, err := s.CreateCollection("blake", b)
	require.NoError(t, err)
	it, err := collection.CreateItem("io", nil, b)
	require.NoError(t, err)
	require.NoError(t, b.Execute(ctx))
	require.NoError(t, it.SetChunkSize(8))

	var n uint64
	it.Write([]byte("1234567887654321"), 0, &n, b)
	require.NoError(t, b.Execute(ctx))

	buf := make([]byte, 16)
	it.Read(buf, 0, &n, b)
	require.NoError(t, b.Execute(ctx))
	assert.True(t, bytes.Equal([]byte("1234567887654321"), buf))
}
