// Package batch provides the client-side operation queue every mutating
// store operation is issued against. Operations become observable only
// when the batch executes; internal read-modify-write steps run on
// sub-batches executed synchronously inline.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Concurrency describes the concurrency expectation a batch is executed
// under.
type Concurrency int

const (
	// ConcurrencyOverlapping allows overlapping accesses by multiple
	// clients. Per-item status documents are not persisted under this
	// mode because they cannot be kept coherent.
	ConcurrencyOverlapping Concurrency = iota

	// ConcurrencyNone promises a single client. Item status documents
	// are persisted alongside the metadata.
	ConcurrencyNone
)

// Semantics carries the execution semantics shared by a batch and all of
// its sub-batches.
type Semantics struct {
	Concurrency Concurrency
}

// DefaultSemantics returns the default template: overlapping accesses.
func DefaultSemantics() Semantics {
	return Semantics{Concurrency: ConcurrencyOverlapping}
}

// SerialSemantics returns the single-client template.
func SerialSemantics() Semantics {
	return Semantics{Concurrency: ConcurrencyNone}
}

// operation is a single deferred store operation.
type operation struct {
	name string
	exec func(ctx context.Context) error
}

// Batch is an ordered queue of deferred operations. A batch is not safe
// for concurrent use; the intended model is one logical writer at a time.
// Executing a batch drains it, so the same batch can be reused for the
// next group of operations.
type Batch struct {
	id        uuid.UUID
	semantics Semantics
	logger    zerolog.Logger
	ops       []operation
}

// New creates an empty batch with the given semantics.
func New(semantics Semantics, logger zerolog.Logger) *Batch {
	id := uuid.New()
	return &Batch{
		id:        id,
		semantics: semantics,
		logger:    logger.With().Str("batch_id", id.String()).Logger(),
	}
}

// Sub creates an empty sub-batch sharing this batch's semantics. Callers
// execute sub-batches inline for read-modify-write steps that must be
// resolved before the enclosing operation can continue.
func (b *Batch) Sub() *Batch {
	return New(b.semantics, b.logger)
}

// Semantics returns the batch semantics.
func (b *Batch) Semantics() Semantics {
	return b.semantics
}

// ID returns the batch correlation ID used in log events.
func (b *Batch) ID() uuid.UUID {
	return b.id
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Queue appends an operation to the batch. The name labels the operation
// in log events and error messages.
func (b *Batch) Queue(name string, exec func(ctx context.Context) error) {
	b.ops = append(b.ops, operation{name: name, exec: exec})
}

// Execute runs the queued operations in enqueue order and drains the
// batch. The first failing operation aborts execution and its error is
// returned; already-executed operations are not rolled back, leaving the
// store in an unspecified but recoverable state.
func (b *Batch) Execute(ctx context.Context) error {
	ops := b.ops
	b.ops = nil

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch aborted before %q: %w", op.name, err)
		}
		if err := op.exec(ctx); err != nil {
			b.logger.Debug().
				Err(err).
				Str("operation", op.name).
				Msg("batch execution failed")
			return fmt.Errorf("operation %q: %w", op.name, err)
		}
	}

	return nil
}
