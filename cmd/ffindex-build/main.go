// ffindex-build creates an ffindex archive from the files under a
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/soedinglab/ffindex"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ffindex-build [-c] [-v] DATA INDEX DIR

Builds the archive pair DATA/INDEX with one record per regular file under
DIR, named by relative path, in sorted order.

  -c        zstd-compress records
  -v        verbose logging
`)
}

func main() {
	os.Exit(run())
}

func run() int {
	compress := flag.Bool("c", false, "zstd-compress records")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 3 {
		usage()
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []ffindex.CreateOption{ffindex.CreateWithLogger(logger)}
	if *compress {
		opts = append(opts, ffindex.CreateWithCompression(ffindex.CompressionZstd))
	}

	if err := ffindex.Create(ctx, flag.Arg(2), flag.Arg(0), flag.Arg(1), opts...); err != nil {
		logger.Error("build archive", "err", err)
		return 1
	}
	return 0
}
