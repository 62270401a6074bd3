// Package partition carves an entry range into fixed-size chunks for
// distribution across a worker pool.
package partition

import "iter"

// Chunk is a half-open range [Start, End) of entry positions, the unit of
// work assignment.
type Chunk struct {
	Start uint64
	End   uint64
}

// Len returns the number of entries in the chunk.
func (c Chunk) Len() uint64 {
	return c.End - c.Start
}

// ChunkSize returns the chunk size for n entries shared by workers, with
// parts chunks targeted per worker: max(1, ceil(n/(workers*parts))).
// Smaller chunks balance uneven per-entry cost at the price of more merges;
// parts is the caller's dial on that trade-off.
func ChunkSize(n, workers, parts uint64) uint64 {
	if workers == 0 {
		workers = 1
	}
	if parts == 0 {
		parts = 1
	}
	if n == 0 {
		return 1
	}
	return (n-1)/(workers*parts) + 1
}

// Chunks yields chunks of the given size covering [0, n) in increasing
// order. The final chunk may be shorter; a zero-length chunk is never
// yielded.
func Chunks(n, size uint64) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if size == 0 {
			size = 1
		}
		for start := uint64(0); start < n; start += size {
			end := start + size
			if end > n {
				end = n
			}
			if !yield(Chunk{Start: start, End: end}) {
				return
			}
		}
	}
}
