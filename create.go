package ffindex

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// createConfig holds configuration for archive creation.
type createConfig struct {
	compression Compression
	logger      *slog.Logger
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

// CreateWithCompression sets the compression applied to each record.
func CreateWithCompression(c Compression) CreateOption {
	return func(cfg *createConfig) {
		cfg.compression = c
	}
}

// CreateWithLogger sets the logger. If not set, logging is disabled.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = logger
	}
}

// Create builds an archive at dataPath/indexPath from the regular files
// under dir, one record per file, named by slash-separated path relative to
// dir. Records are written in lexical path order, so the resulting index is
// name-sorted and supports binary-search lookups.
//
// Symbolic links and empty directories are skipped. The context cancels a
// long-running build between files.
func Create(ctx context.Context, dir, dataPath, indexPath string, opts ...CreateOption) error {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	w, err := NewWriter(dataPath, indexPath, WriterWithCompression(cfg.compression))
	if err != nil {
		return err
	}

	logger.Info("creating archive", "dir", dir, "compression", cfg.compression.String())

	root := os.DirFS(dir)
	walkErr := fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		payload, err := fs.ReadFile(root, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := w.Append(payload, path); err != nil {
			return fmt.Errorf("append %s: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		w.Close()
		return walkErr
	}

	if err := w.Close(); err != nil {
		return err
	}
	logger.Info("archive created",
		"entries", w.Count(), "bytes", w.Offset(), "digest", w.Digest())
	return nil
}
