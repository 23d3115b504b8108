package item

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/fingerprint"
	"github.com/prn-tf/leopold-dedup/internal/store/memory"
)

func newBenchItem(b *testing.B, chunkSize uint64) (*Item, *batch.Batch, context.Context) {
	b.Helper()

	s := NewStore(memory.NewObjectStore(), memory.NewKVStore(), fingerprint.Default(), nil, zerolog.Nop())
	bt := batch.New(batch.DefaultSemantics(), zerolog.Nop())
	ctx := context.Background()

	collection, err := s.CreateCollection("bench", bt)
	if err != nil {
		b.Fatal(err)
	}
	it, err := collection.CreateItem("bench-item", nil, bt)
	if err != nil {
		b.Fatal(err)
	}
	if err := bt.Execute(ctx); err != nil {
		b.Fatal(err)
	}
	if err := it.SetChunkSize(chunkSize); err != nil {
		b.Fatal(err)
	}
	return it, bt, ctx
}

func BenchmarkItemWrite_Unique(b *testing.B) {
	it, bt, ctx := newBenchItem(b, 4096)

	data := make([]byte, 64*1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		// Vary the content so every iteration materialises chunks.
		data[0] = byte(n)
		data[1] = byte(n >> 8)

		it.Write(data, uint64(n)*uint64(len(data)), nil, bt)
		if err := bt.Execute(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkItemWrite_Duplicate(b *testing.B) {
	it, bt, ctx := newBenchItem(b, 4096)

	data := bytes.Repeat([]byte{0x5a}, 64*1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		it.Write(data, 0, nil, bt)
		if err := bt.Execute(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkItemRead(b *testing.B) {
	it, bt, ctx := newBenchItem(b, 4096)

	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i)
	}
	it.Write(data, 0, nil, bt)
	if err := bt.Execute(ctx); err != nil {
		b.Fatal(err)
	}

	buf := make([]byte, len(data))
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		it.Read(buf, 0, nil, bt)
		if err := bt.Execute(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkItemWrite_ChunkSizes(b *testing.B) {
	for _, chunkSize := range []uint64{1024, 4096, 16384, 128000} {
		b.Run(fmt.Sprintf("chunk_size_%d", chunkSize), func(b *testing.B) {
			it, bt, ctx := newBenchItem(b, chunkSize)

			data := make([]byte, 256*1024)
			for i := range data {
				data[i] = byte(i * 31)
			}
			b.SetBytes(int64(len(data)))
			b.ResetTimer()

			for n := 0; n < b.N; n++ {
				it.Write(data, 0, nil, bt)
				if err := bt.Execute(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
