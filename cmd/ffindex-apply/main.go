// ffindex-apply runs a program over every record of an ffindex archive
// across a pool of workers, optionally collecting each child's stdout into a
// new archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/soedinglab/ffindex"
)

type config struct {
	dataOut  string
	indexOut string
	parts    int
	workers  int
	compress bool
	verbose  bool
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ffindex-apply [-d OUT_DATA -i OUT_INDEX] [-p PARTS] [-j WORKERS] [-c] [-v] DATA INDEX -- PROGRAM [ARGS...]

Feeds every record of the archive at DATA/INDEX to PROGRAM on stdin, one
invocation per record. With -d and -i, each child's stdout becomes a record
of the output archive, in source order. Without them the children inherit
stdout. One result line per record is printed to stdout:
name, source offset, source length, exit status.

  -d FILE   output data file (requires -i)
  -i FILE   output index file (requires -d)
  -p N      chunks per worker (default 10)
  -j N      worker count (default: number of CPUs)
  -c        zstd-compress captured records
  -v        verbose logging
`)
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config
	flag.StringVar(&cfg.dataOut, "d", "", "output data file")
	flag.StringVar(&cfg.indexOut, "i", "", "output index file")
	flag.IntVar(&cfg.parts, "p", ffindex.DefaultParts, "chunks per worker")
	flag.IntVar(&cfg.workers, "j", 0, "worker count")
	flag.BoolVar(&cfg.compress, "c", false, "zstd-compress captured records")
	flag.BoolVar(&cfg.verbose, "v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	// A child closing its stdin early must surface as a write error, not
	// kill this process.
	signal.Ignore(syscall.SIGPIPE)

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	args := flag.Args()
	var positional, command []string
	if sep := slices.Index(args, "--"); sep >= 0 {
		positional, command = args[:sep], args[sep+1:]
	} else if len(args) > 2 {
		positional, command = args[:2], args[2:]
	} else {
		positional = args
	}
	if len(positional) != 2 || len(command) == 0 {
		usage()
		return 1
	}
	if (cfg.dataOut == "") != (cfg.indexOut == "") {
		fmt.Fprintln(os.Stderr, "ffindex-apply: -d and -i must be given together")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := ffindex.Open(positional[0], positional[1])
	if err != nil {
		logger.Error("open archive", "err", err)
		return 1
	}
	defer archive.Close()

	opts := []ffindex.ApplyOption{
		ffindex.ApplyWithParts(cfg.parts),
		ffindex.ApplyWithWorkers(cfg.workers),
		ffindex.ApplyWithProgress(os.Stdout),
		ffindex.ApplyWithLogger(logger),
	}
	if cfg.dataOut != "" {
		opts = append(opts, ffindex.ApplyWithOutput(cfg.dataOut, cfg.indexOut))
	}
	if cfg.compress {
		opts = append(opts, ffindex.ApplyWithCompression(ffindex.CompressionZstd))
	}

	res, err := ffindex.Apply(ctx, archive, command[0], command[1:], opts...)
	if err != nil {
		logger.Error("apply", "err", err)
		return 1
	}

	// Per-record failures are reported, never turned into a nonzero exit:
	// the run is "apply to every entry, tell me what happened".
	if res.Failed > 0 {
		logger.Warn("children exited nonzero", "failed", res.Failed, "entries", res.Entries)
	}
	if err := res.Err(); err != nil {
		logger.Warn("some chunks aborted", "first_error", err)
	}
	for _, mergeErr := range res.MergeErrs {
		logger.Warn("shards left unmerged on disk", "err", mergeErr)
	}
	return 0
}
