// Package chunk implements the chunk-level machinery of the item store:
// the layout engine translating byte ranges into whole-chunk plans, the
// namespaced store adapter, and the fingerprint reference counter.
package chunk

// Plan maps an item-level (offset, length) access onto a chunk index
// range with per-chunk byte slices. The same geometry serves writes and
// reads; OldChunks only matters for writes.
type Plan struct {
	// ChunkSize is the item's chunk size the plan was computed for.
	ChunkSize uint64

	// Offset and Length are the requested byte range.
	Offset uint64
	Length uint64

	// FirstChunk is the index of the first chunk touched.
	FirstChunk uint64

	// ChunkOffset is the number of bytes preserved at the head of the
	// first chunk (offset modulo chunk size).
	ChunkOffset uint64

	// Chunks is the number of chunks touched. Zero for an empty range.
	Chunks uint64

	// LastChunk is the index of the last chunk touched. Only valid
	// when Chunks > 0.
	LastChunk uint64

	// TailWritten is the number of bytes the range covers in the last
	// chunk; Remaining is the complement preserved at its tail.
	TailWritten uint64
	Remaining   uint64

	// OldChunks is the number of touched chunks that already existed
	// in the item's hash list, counted from FirstChunk.
	OldChunks uint64
}

// NewPlan computes the chunk plan for a byte range against an item with
// oldHashCount existing chunks. chunkSize must be positive.
func NewPlan(offset, length, chunkSize, oldHashCount uint64) Plan {
	p := Plan{
		ChunkSize:   chunkSize,
		Offset:      offset,
		Length:      length,
		FirstChunk:  offset / chunkSize,
		ChunkOffset: offset % chunkSize,
	}

	if length == 0 {
		return p
	}

	covered := p.ChunkOffset + length
	p.Chunks = covered / chunkSize
	if covered%chunkSize > 0 {
		p.Chunks++
	}
	p.LastChunk = p.FirstChunk + p.Chunks - 1

	p.TailWritten = (p.ChunkOffset+length-1)%chunkSize + 1
	p.Remaining = chunkSize - p.TailWritten

	if oldHashCount > p.FirstChunk {
		p.OldChunks = oldHashCount - p.FirstChunk
		if p.OldChunks > p.Chunks {
			p.OldChunks = p.Chunks
		}
	}

	return p
}

// BufferRange returns the half-open range of caller-buffer bytes that
// chunk rel (relative to FirstChunk) contributes, clipped to the buffer.
func (p Plan) BufferRange(rel uint64) (start, end uint64) {
	if p.Chunks == 0 {
		return 0, 0
	}

	if rel > 0 {
		start = rel*p.ChunkSize - p.ChunkOffset
	}
	end = (rel+1)*p.ChunkSize - p.ChunkOffset
	if end > p.Length {
		end = p.Length
	}
	return start, end
}

// ChunkRange returns the half-open byte range within chunk rel (relative
// to FirstChunk) that the plan covers: [ChunkOffset, …) on the first
// chunk, […, ChunkSize−Remaining) on the last, the full width otherwise.
func (p Plan) ChunkRange(rel uint64) (from, to uint64) {
	if p.Chunks == 0 {
		return 0, 0
	}

	from = 0
	if rel == 0 {
		from = p.ChunkOffset
	}
	to = p.ChunkSize
	if rel == p.Chunks-1 {
		to = p.ChunkSize - p.Remaining
	}
	return from, to
}

// HeadPreserved reports whether the first chunk keeps bytes ahead of the
// range, and whether those bytes must be read from an existing chunk
// (true) or zero-filled (false, write starts past the end of the item).
func (p Plan) HeadPreserved() (preserved, fromExisting bool) {
	if p.Chunks == 0 || p.ChunkOffset == 0 {
		return false, false
	}
	return true, p.OldChunks > 0
}

// TailPreserved reports whether the last chunk keeps bytes behind the
// range, and whether those bytes come from an existing chunk (true) or
// are zero-filled (false).
func (p Plan) TailPreserved() (preserved, fromExisting bool) {
	if p.Chunks == 0 || p.Remaining == 0 {
		return false, false
	}
	return true, p.OldChunks == p.Chunks
}
