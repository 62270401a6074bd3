package ffindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/soedinglab/ffindex/internal/dispatch"
	"github.com/soedinglab/ffindex/internal/partition"
	"github.com/soedinglab/ffindex/internal/pipe"
)

// DefaultParts is the default number of chunks targeted per worker.
const DefaultParts = 10

// applyConfig holds configuration for an Apply run.
type applyConfig struct {
	dataOut     string
	indexOut    string
	parts       int
	workers     int
	compression Compression
	progress    io.Writer
	logger      *slog.Logger
}

// ApplyOption configures an Apply run.
type ApplyOption func(*applyConfig)

// ApplyWithOutput enables output capture: each child's stdout becomes one
// record of the archive pair written to dataPath/indexPath. Without this
// option children inherit stdout and no output files are created.
func ApplyWithOutput(dataPath, indexPath string) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.dataOut = dataPath
		cfg.indexOut = indexPath
	}
}

// ApplyWithParts sets how many chunks are targeted per worker, the dial
// between load balance and merge overhead. Zero or negative uses
// DefaultParts.
func ApplyWithParts(parts int) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.parts = parts
	}
}

// ApplyWithWorkers sets the worker-pool size. Zero or negative uses
// runtime.GOMAXPROCS(0). Each worker runs one child at a time.
func ApplyWithWorkers(workers int) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.workers = workers
	}
}

// ApplyWithCompression compresses captured output records.
func ApplyWithCompression(c Compression) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.compression = c
	}
}

// ApplyWithProgress streams one result line per processed record to w:
// name, source offset, source length, and child exit status, tab-separated.
func ApplyWithProgress(w io.Writer) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.progress = w
	}
}

// ApplyWithLogger sets the logger. If not set, logging is disabled.
func ApplyWithLogger(logger *slog.Logger) ApplyOption {
	return func(cfg *applyConfig) {
		cfg.logger = logger
	}
}

// ChunkStatus records the outcome of one chunk of entries.
type ChunkStatus struct {
	Start uint64
	End   uint64
	// Err is the failure that aborted the chunk, or nil. Entries after the
	// failing one were not processed.
	Err error
}

// Result aggregates what happened across an Apply run.
type Result struct {
	// Entries counts records run through the program.
	Entries int

	// Failed counts records whose child exited nonzero. Child failures do
	// not abort the run; this is where they surface.
	Failed int

	// Chunks lists every dispatched chunk's outcome, ordered by Start.
	Chunks []ChunkStatus

	// MergeErrs collects worker-local merge failures. The unmerged shards
	// stay on disk under their deterministic names for manual recovery.
	MergeErrs []error
}

// Err returns the first chunk failure, or nil if every chunk completed.
func (r *Result) Err() error {
	for _, c := range r.Chunks {
		if c.Err != nil {
			return c.Err
		}
	}
	return nil
}

// Apply runs program over every record of a across a pool of workers.
//
// The entry range is carved into chunks (see ApplyWithParts) that workers
// pull as they become free. Within a chunk, records are processed one at a
// time in index order; with capture enabled each chunk's output goes to its
// own shard, shards are merged per worker in chunk order, and the worker
// shards are merged in rank order into the final pair once all workers have
// finished. The final archive's record order therefore matches: rank by
// rank, chunk by chunk, entry by entry — deterministic regardless of
// scheduling.
//
// The returned error covers setup and pool failures only. Per-record and
// per-chunk failures are reported through the Result, matching the tool's
// contract of "apply to every entry, tell me what happened".
func Apply(ctx context.Context, a *Archive, program string, args []string, opts ...ApplyOption) (*Result, error) {
	cfg := applyConfig{parts: DefaultParts, progress: io.Discard}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.parts <= 0 {
		cfg.parts = DefaultParts
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	if program == "" {
		return nil, errors.New("ffindex: no program given")
	}
	if (cfg.dataOut == "") != (cfg.indexOut == "") {
		return nil, errors.New("ffindex: output capture needs both data and index paths")
	}

	run := &applyRun{
		cfg:     cfg,
		archive: a,
		program: program,
		args:    args,
		capture: cfg.dataOut != "",
		logger:  cfg.logger,
	}
	if run.logger == nil {
		run.logger = slog.New(slog.DiscardHandler)
	}

	n := uint64(a.Len())
	chunkSize := partition.ChunkSize(n, uint64(cfg.workers), uint64(cfg.parts))
	run.logger.Info("applying program",
		"program", program, "entries", n,
		"workers", cfg.workers, "chunk_size", chunkSize, "capture", run.capture)

	pool := dispatch.Pool{Workers: cfg.workers}
	err := pool.Run(ctx, n, chunkSize, func(rank int) dispatch.Worker {
		w := &applyWorker{run: run, rank: rank}
		run.mu.Lock()
		run.workers = append(run.workers, w)
		run.mu.Unlock()
		return w
	})
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}

	// All workers are past the barrier; their shards are final.
	if run.capture {
		srcs := make([]shardPaths, 0, cfg.workers)
		for rank := 1; rank <= cfg.workers; rank++ {
			srcs = append(srcs, workerShardPaths(cfg.dataOut, cfg.indexOut, rank))
		}
		dst := shardPaths{data: cfg.dataOut, index: cfg.indexOut}
		if err := mergeShards(dst, srcs, run.logger); err != nil {
			return nil, fmt.Errorf("final merge: %w", err)
		}
	}

	res := run.result()
	run.logger.Info("apply finished",
		"entries", res.Entries, "failed", res.Failed, "chunks", len(res.Chunks))
	return res, nil
}

// applyRun is the state shared by all workers of one Apply call.
type applyRun struct {
	cfg     applyConfig
	archive *Archive
	program string
	args    []string
	capture bool
	logger  *slog.Logger

	mu      sync.Mutex
	entries int
	failed  int
	workers []*applyWorker
}

// note records one processed record and writes its progress line.
func (r *applyRun) note(e Entry, exitStatus int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries++
	if exitStatus != 0 {
		r.failed++
	}
	fmt.Fprintf(r.cfg.progress, "%s\t%d\t%d\t%d\n", e.Name, e.Offset, e.Length, exitStatus)
}

// result snapshots the aggregated outcome. Only valid after the pool join.
func (r *applyRun) result() *Result {
	res := &Result{Entries: r.entries, Failed: r.failed}
	for _, w := range r.workers {
		res.Chunks = append(res.Chunks, w.done...)
		if w.mergeErr != nil {
			res.MergeErrs = append(res.MergeErrs, w.mergeErr)
		}
	}
	sort.Slice(res.Chunks, func(i, j int) bool {
		return res.Chunks[i].Start < res.Chunks[j].Start
	})
	return res
}

// applyWorker is one ranked worker's loop state: its completed chunks and
// the outcome of its local merge. Nothing here is shared; the slice is read
// by the coordinator only after the join barrier.
type applyWorker struct {
	run      *applyRun
	rank     int
	done     []ChunkStatus
	mergeErr error
}

// Process runs one chunk and records its completion status.
func (w *applyWorker) Process(ctx context.Context, c partition.Chunk) {
	err := w.processChunk(ctx, c)
	if err != nil {
		w.run.logger.Error("chunk failed",
			"rank", w.rank, "start", c.Start, "end", c.End, "err", err)
	}
	w.done = append(w.done, ChunkStatus{Start: c.Start, End: c.End, Err: err})
}

func (w *applyWorker) processChunk(ctx context.Context, c partition.Chunk) (err error) {
	run := w.run

	var shard *Writer
	if run.capture {
		paths := chunkShardPaths(run.cfg.dataOut, run.cfg.indexOut, w.rank, c.Start, c.End)
		shard, err = NewWriter(paths.data, paths.index,
			WriterWithCompression(run.cfg.compression))
		if err != nil {
			return fmt.Errorf("open chunk shard: %w", err)
		}
		defer func() {
			if closeErr := shard.Close(); err == nil {
				err = closeErr
			}
		}()
	}

	for i := c.Start; i < c.End; i++ {
		entry, err := run.archive.Entry(int(i))
		if err != nil {
			return err
		}
		payload, err := run.archive.Fetch(entry)
		if err != nil {
			return err
		}

		res, err := pipe.Run(ctx, run.program, run.args, payload, run.capture)
		if err != nil {
			return fmt.Errorf("entry %s: %w", entry.Name, err)
		}
		if run.capture {
			if _, err := shard.Append(res.Output, entry.Name); err != nil {
				return fmt.Errorf("entry %s: %w", entry.Name, err)
			}
		}
		run.note(entry, res.ExitStatus)
	}
	return nil
}

// Drain merges this worker's chunk shards, in ascending chunk-start order,
// into its worker shard. A failed merge is recorded, not fatal: the inputs
// stay on disk and the rest of the run proceeds.
func (w *applyWorker) Drain(ctx context.Context) error {
	if !w.run.capture || len(w.done) == 0 {
		return ctx.Err()
	}

	sort.Slice(w.done, func(i, j int) bool {
		return w.done[i].Start < w.done[j].Start
	})

	srcs := make([]shardPaths, 0, len(w.done))
	for _, c := range w.done {
		srcs = append(srcs, chunkShardPaths(w.run.cfg.dataOut, w.run.cfg.indexOut, w.rank, c.Start, c.End))
	}
	dst := workerShardPaths(w.run.cfg.dataOut, w.run.cfg.indexOut, w.rank)

	if err := mergeShards(dst, srcs, w.run.logger); err != nil {
		w.mergeErr = fmt.Errorf("worker %d merge: %w", w.rank, err)
	}
	return ctx.Err()
}
