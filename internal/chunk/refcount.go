package chunk

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/metrics"
)

// RefCounter encapsulates acquire/release of fingerprint-addressed
// chunks. A chunk is materialised on its first acquire and reclaimed,
// together with its refcount record, when the count returns to zero.
//
// The scheme is cooperative, not transactional: the underlying stores
// offer no compare-and-swap, so the read-modify-write of the refcount
// record is only safe under a single writer per fingerprint. That is the
// supported concurrency envelope; concurrent writers can make the count
// drift.
type RefCounter struct {
	adapter *Adapter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRefCounter creates a new reference counter over the adapter.
func NewRefCounter(adapter *Adapter, m *metrics.Metrics, logger zerolog.Logger) *RefCounter {
	return &RefCounter{
		adapter: adapter,
		metrics: m,
		logger:  logger,
	}
}

// Acquire takes a reference on fp. When no reference exists yet, the
// chunk bytes are materialised from produce and written before the
// count is stored. Returns whether the chunk was new. Acquire is
// idempotent with respect to content: acquiring the same bytes twice
// stores them once.
func (r *RefCounter) Acquire(ctx context.Context, fp string, produce func() []byte, b *batch.Batch) (bool, error) {
	sub := b.Sub()

	var ref int32
	r.adapter.RefGet(fp, &ref, sub)
	if err := sub.Execute(ctx); err != nil {
		return false, err
	}

	wasNew := ref == 0
	if wasNew {
		buf := produce()
		r.adapter.ChunkCreate(fp, sub)
		r.adapter.ChunkWrite(fp, buf, 0, sub)
	}
	r.adapter.RefPut(fp, ref+1, sub)
	if err := sub.Execute(ctx); err != nil {
		return false, err
	}

	r.metrics.RecordChunkAcquired(wasNew)
	r.logger.Debug().
		Str("fingerprint", fp).
		Bool("was_new", wasNew).
		Int32("refcount", ref+1).
		Msg("chunk acquired")

	return wasNew, nil
}

// Release drops a reference on fp. When the count reaches zero both the
// refcount record and the chunk record are deleted before Release
// returns. A missing refcount record is treated as zero and skipped, so
// repeated releases of the same fingerprint stay harmless.
func (r *RefCounter) Release(ctx context.Context, fp string, b *batch.Batch) error {
	sub := b.Sub()

	var ref int32
	r.adapter.RefGet(fp, &ref, sub)
	if err := sub.Execute(ctx); err != nil {
		return err
	}

	if ref <= 0 {
		r.logger.Warn().
			Str("fingerprint", fp).
			Msg("release of unreferenced chunk skipped")
		return nil
	}

	ref--
	reclaimed := ref == 0
	if reclaimed {
		r.adapter.RefDelete(fp, sub)
		r.adapter.ChunkDelete(fp, sub)
	} else {
		r.adapter.RefPut(fp, ref, sub)
	}
	if err := sub.Execute(ctx); err != nil {
		return err
	}

	r.metrics.RecordChunkReleased(reclaimed)
	r.logger.Debug().
		Str("fingerprint", fp).
		Bool("reclaimed", reclaimed).
		Int32("refcount", ref).
		Msg("chunk released")

	return nil
}
