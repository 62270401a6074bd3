package ffindex

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
)

// Compression identifies how record payloads are stored.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// writerConfig holds configuration for a Writer.
type writerConfig struct {
	compression Compression
	appendMode  bool
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

// WriterWithCompression compresses each appended payload before it is
// stored. Record lengths then reflect the stored (compressed) size.
func WriterWithCompression(c Compression) WriterOption {
	return func(cfg *writerConfig) {
		cfg.compression = c
	}
}

// WriterWithAppend opens an existing archive pair for appending instead of
// truncating; the running offset resumes at the data file's size.
func WriterWithAppend() WriterOption {
	return func(cfg *writerConfig) {
		cfg.appendMode = true
	}
}

// Writer appends records to an ffindex archive pair. Every Append writes the
// payload plus a NUL sentinel to the data file and a matching index line,
// then flushes both, so a concurrent reader of the files always observes a
// consistent prefix of the archive.
//
// A Writer exclusively owns its (data, index) pair and is not safe for
// concurrent use.
type Writer struct {
	cfg    writerConfig
	dataF  *os.File
	indexF *os.File
	data   *bufio.Writer
	index  *bufio.Writer

	offset   uint64
	count    int
	lineBuf  []byte
	digester digest.Digester
	enc      *zstd.Encoder
}

// NewWriter creates (or, with WriterWithAppend, extends) the archive pair at
// dataPath and indexPath.
func NewWriter(dataPath, indexPath string, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	dataF, err := os.OpenFile(dataPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open data: %w", err)
	}
	indexF, err := os.OpenFile(indexPath, flags, 0o644)
	if err != nil {
		dataF.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	var offset uint64
	if cfg.appendMode {
		info, err := dataF.Stat()
		if err != nil {
			dataF.Close()
			indexF.Close()
			return nil, fmt.Errorf("stat data: %w", err)
		}
		offset = uint64(info.Size())
	}

	w := &Writer{
		cfg:      cfg,
		dataF:    dataF,
		indexF:   indexF,
		data:     bufio.NewWriter(dataF),
		index:    bufio.NewWriter(indexF),
		offset:   offset,
		digester: digest.SHA256.Digester(),
	}
	if cfg.compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			w.closeFiles()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		w.enc = enc
	}
	return w, nil
}

// Append stores payload under name and returns the written entry. The
// returned entry's Length is the stored size plus one for the sentinel.
func (w *Writer) Append(payload []byte, name string) (Entry, error) {
	if w.enc != nil {
		payload = w.enc.EncodeAll(payload, nil)
	}
	return w.appendRecord(payload, name)
}

// appendRecord writes payload verbatim. Merge paths use it directly so
// already-stored bytes are never re-encoded.
func (w *Writer) appendRecord(payload []byte, name string) (Entry, error) {
	if strings.ContainsAny(name, "\t\n") {
		return Entry{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}

	e := Entry{Name: name, Offset: w.offset, Length: uint64(len(payload)) + 1}

	if _, err := w.data.Write(payload); err != nil {
		return Entry{}, fmt.Errorf("write data: %w", err)
	}
	if err := w.data.WriteByte(0); err != nil {
		return Entry{}, fmt.Errorf("write sentinel: %w", err)
	}
	w.digester.Hash().Write(payload)
	w.digester.Hash().Write([]byte{0})

	w.lineBuf = appendIndexLine(w.lineBuf[:0], e)
	if _, err := w.index.Write(w.lineBuf); err != nil {
		return Entry{}, fmt.Errorf("write index: %w", err)
	}

	if err := w.flush(); err != nil {
		return Entry{}, err
	}

	w.offset += e.Length
	w.count++
	return e, nil
}

// AppendArchive appends every record of a, in index order, to w. Stored
// bytes are copied verbatim; offsets are rewritten by virtue of the
// destination's running offset.
func (w *Writer) AppendArchive(a *Archive) error {
	for e := range a.Entries() {
		payload, err := a.Fetch(e)
		if err != nil {
			return err
		}
		if _, err := w.appendRecord(payload, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// flush pushes buffered bytes of both files to the kernel.
func (w *Writer) flush() error {
	if err := w.data.Flush(); err != nil {
		return fmt.Errorf("flush data: %w", err)
	}
	if err := w.index.Flush(); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

// Offset returns the running write offset in the data file.
func (w *Writer) Offset() uint64 {
	return w.offset
}

// Count returns the number of records appended by this Writer.
func (w *Writer) Count() int {
	return w.count
}

// Digest returns the digest of all bytes this Writer has appended to the
// data file, sentinels included.
func (w *Writer) Digest() digest.Digest {
	return w.digester.Digest()
}

// Close flushes and closes both files.
func (w *Writer) Close() error {
	flushErr := w.flush()
	if w.enc != nil {
		w.enc.Close()
		w.enc = nil
	}
	closeErr := w.closeFiles()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *Writer) closeFiles() error {
	dataErr := w.dataF.Close()
	indexErr := w.indexF.Close()
	if dataErr != nil {
		return fmt.Errorf("close data: %w", dataErr)
	}
	if indexErr != nil {
		return fmt.Errorf("close index: %w", indexErr)
	}
	return nil
}
