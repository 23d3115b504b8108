package item

import "errors"

// Item errors
var (
	// ErrInvalidName indicates an empty name or one containing '/'.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidChunkSize indicates a zero chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrChunkSizeUnset indicates an IO attempt before the chunk size
	// was set.
	ErrChunkSizeUnset = errors.New("chunk size not set")

	// ErrChunkSizeImmutable indicates an attempt to change the chunk
	// size after the item was written.
	ErrChunkSizeImmutable = errors.New("chunk size is immutable after the first write")
)
