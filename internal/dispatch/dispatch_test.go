package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soedinglab/ffindex/internal/partition"
)

// recordingWorker tracks the chunks it was handed and when Drain ran.
type recordingWorker struct {
	rank    int
	chunks  []partition.Chunk
	drained bool
}

func (w *recordingWorker) Process(_ context.Context, c partition.Chunk) {
	if w.drained {
		panic("Process after Drain")
	}
	w.chunks = append(w.chunks, c)
}

func (w *recordingWorker) Drain(context.Context) error {
	w.drained = true
	return nil
}

func TestPoolRunCoversAllChunksOnce(t *testing.T) {
	var mu sync.Mutex
	var created []*recordingWorker

	pool := Pool{Workers: 3}
	err := pool.Run(context.Background(), 25, 3, func(rank int) Worker {
		w := &recordingWorker{rank: rank}
		mu.Lock()
		created = append(created, w)
		mu.Unlock()
		return w
	})
	require.NoError(t, err)

	require.Len(t, created, 3)
	seen := make(map[uint64]int)
	ranks := make(map[int]bool)
	for _, w := range created {
		assert.True(t, w.drained)
		ranks[w.rank] = true
		for _, c := range w.chunks {
			for i := c.Start; i < c.End; i++ {
				seen[i]++
			}
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, ranks)

	// Every entry position dispatched exactly once.
	require.Len(t, seen, 25)
	for i, count := range seen {
		assert.Equal(t, 1, count, "position %d", i)
	}
}

func TestPoolRunEmptyRange(t *testing.T) {
	var mu sync.Mutex
	drains := 0

	pool := Pool{Workers: 2}
	err := pool.Run(context.Background(), 0, 5, func(int) Worker {
		return drainCounter{mu: &mu, n: &drains}
	})
	require.NoError(t, err)

	// Workers with no chunks still drain (the local-merge hook).
	assert.Equal(t, 2, drains)
}

type drainCounter struct {
	mu *sync.Mutex
	n  *int
}

func (drainCounter) Process(context.Context, partition.Chunk) {}

func (d drainCounter) Drain(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	*d.n++
	return nil
}

func TestPoolRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := Pool{Workers: 2}
	err := pool.Run(ctx, 1000, 1, func(int) Worker {
		return &recordingWorker{}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolRunDefaultsToOneWorker(t *testing.T) {
	var mu sync.Mutex
	var created []*recordingWorker

	pool := Pool{}
	err := pool.Run(context.Background(), 4, 2, func(rank int) Worker {
		w := &recordingWorker{rank: rank}
		mu.Lock()
		created = append(created, w)
		mu.Unlock()
		return w
	})
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].rank)
	// A single worker sees the chunks in increasing order.
	require.Len(t, created[0].chunks, 2)
	assert.Equal(t, partition.Chunk{Start: 0, End: 2}, created[0].chunks[0])
	assert.Equal(t, partition.Chunk{Start: 2, End: 4}, created[0].chunks[1])
}
