package ffindex

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// shardPaths names one (data, index) archive pair on disk.
type shardPaths struct {
	data  string
	index string
}

// chunkShardPaths returns the shard pair a worker writes for one chunk,
// derived from the output base names, the worker rank, and the chunk bounds
// so a crashed run's leftovers stay identifiable.
func chunkShardPaths(dataOut, indexOut string, rank int, start, end uint64) shardPaths {
	return shardPaths{
		data:  fmt.Sprintf("%s.%d.%d.%d", dataOut, rank, start, end),
		index: fmt.Sprintf("%s.%d.%d.%d", indexOut, rank, start, end),
	}
}

// workerShardPaths returns the per-worker merged shard pair.
func workerShardPaths(dataOut, indexOut string, rank int) shardPaths {
	return shardPaths{
		data:  fmt.Sprintf("%s.%d", dataOut, rank),
		index: fmt.Sprintf("%s.%d", indexOut, rank),
	}
}

// exists reports whether the shard's index file is present. A shard that was
// never opened (capture disabled, or the worker got no chunks) has neither
// file.
func (s shardPaths) exists() (bool, error) {
	if _, err := os.Stat(s.index); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s shardPaths) remove() error {
	if err := os.Remove(s.data); err != nil {
		return err
	}
	return os.Remove(s.index)
}

// mergeShards appends each existing source shard, in slice order, to the
// destination pair, then removes the source. The destination is created on
// the first absorbed source and extended in place afterwards, so offsets
// already written stay valid.
//
// A source is removed only after all of its records are appended and
// flushed; on any failure the current source and all remaining sources are
// left on disk for recovery, and the destination is never deleted.
func mergeShards(dst shardPaths, srcs []shardPaths, logger *slog.Logger) (err error) {
	var w *Writer
	defer func() {
		if w != nil {
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
		}
	}()

	for _, src := range srcs {
		ok, statErr := src.exists()
		if statErr != nil {
			return statErr
		}
		if !ok {
			continue
		}

		if w == nil {
			w, err = NewWriter(dst.data, dst.index, WriterWithAppend())
			if err != nil {
				return fmt.Errorf("open merge destination: %w", err)
			}
		}

		if err := absorb(w, src); err != nil {
			return fmt.Errorf("merge %s: %w", src.data, err)
		}
		if err := src.remove(); err != nil {
			return fmt.Errorf("remove merged shard: %w", err)
		}
		logger.Debug("shard merged", "src", src.data, "dst", dst.data, "offset", w.Offset())
	}
	return nil
}

// absorb copies every record of src into w.
func absorb(w *Writer, src shardPaths) error {
	a, err := Open(src.data, src.index)
	if err != nil {
		return err
	}
	defer a.Close()
	return w.AppendArchive(a)
}
