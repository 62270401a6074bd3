// Package dispatch runs a coordinator/worker pool over chunk descriptors.
//
// It replaces a rank-addressed message-passing transport with a channel
// dispatcher: the same worker contract could sit on top of processes or
// networked ranks, but here the pool is goroutines inside one process.
package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/soedinglab/ffindex/internal/partition"
)

// Worker consumes chunks assigned by a Pool.
//
// Process handles one chunk. Failures that should not halt the pool are the
// worker's own business to record; only transport-level failures belong in
// errors, which is why Process returns none. Drain runs exactly once, after
// the worker's last chunk, and is the hook for per-worker finalization.
type Worker interface {
	Process(ctx context.Context, c partition.Chunk)
	Drain(ctx context.Context) error
}

// Pool dispatches the chunks of [0, n) to a fixed number of ranked workers.
type Pool struct {
	// Workers is the pool size, excluding the coordinating goroutine.
	// Values below 1 are treated as 1.
	Workers int
}

// Run builds one worker per rank 1..Workers, feeds them chunks of the given
// size in increasing order, and returns once every worker has drained (the
// join barrier). Workers pull chunks as they become free, so assignment
// across ranks is load-driven, not deterministic.
//
// Context cancellation is the only way Run fails; worker Drain errors are
// also propagated after all workers have stopped.
func (p *Pool) Run(ctx context.Context, n, chunkSize uint64, newWorker func(rank int) Worker) error {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	chunks := make(chan partition.Chunk)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		for c := range partition.Chunks(n, chunkSize) {
			select {
			case chunks <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for rank := 1; rank <= workers; rank++ {
		g.Go(func() error {
			w := newWorker(rank)
			for c := range chunks {
				if err := ctx.Err(); err != nil {
					return err
				}
				w.Process(ctx, c)
			}
			return w.Drain(ctx)
		})
	}

	return g.Wait()
}
