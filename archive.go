package ffindex

import (
	"fmt"
	"iter"
	"os"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Archive is a read-only ffindex archive: the memory-mapped data blob plus
// its parsed index. An Archive is safe for concurrent readers; Fetch returns
// slices that alias the map and stay valid until Close.
type Archive struct {
	data    []byte
	entries []Entry
	mapped  bool
	sorted  bool

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// Open maps dataPath read-only and parses indexPath. An empty data file is
// valid and maps to an empty archive.
func Open(dataPath, indexPath string) (*Archive, error) {
	df, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("open data: %w", err)
	}
	defer df.Close()

	data, mapped, err := mmapFile(df)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", dataPath, err)
	}

	xf, err := os.Open(indexPath)
	if err != nil {
		if mapped {
			_ = munmapFile(data)
		}
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer xf.Close()

	entries, err := ParseIndex(xf)
	if err != nil {
		if mapped {
			_ = munmapFile(data)
		}
		return nil, fmt.Errorf("parse %s: %w", indexPath, err)
	}

	sorted := sort.SliceIsSorted(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return &Archive{data: data, entries: entries, mapped: mapped, sorted: sorted}, nil
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Entry returns the entry at position i in index order.
func (a *Archive) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(a.entries) {
		return Entry{}, fmt.Errorf("%w: entry %d of %d", ErrOutOfRange, i, len(a.entries))
	}
	return a.entries[i], nil
}

// Lookup returns the entry with the given name. It binary-searches when the
// index is name-sorted (the usual case for built archives) and falls back to
// a linear scan otherwise.
func (a *Archive) Lookup(name string) (Entry, error) {
	if a.sorted {
		i := sort.Search(len(a.entries), func(i int) bool {
			return a.entries[i].Name >= name
		})
		if i < len(a.entries) && a.entries[i].Name == name {
			return a.entries[i], nil
		}
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	for _, e := range a.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Entries returns an iterator over all entries in index order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range a.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Fetch returns e's stored payload, excluding the trailing sentinel. The
// slice aliases the memory map; callers must not modify it.
func (a *Archive) Fetch(e Entry) ([]byte, error) {
	if e.Length == 0 {
		return nil, nil
	}
	end := e.Offset + e.Length
	if end < e.Offset || end > uint64(len(a.data)) {
		return nil, fmt.Errorf("%w: %s [%d,%d) in blob of %d bytes",
			ErrOutOfRange, e.Name, e.Offset, end, len(a.data))
	}
	return a.data[e.Offset : end-1 : end-1], nil
}

// FetchDecompressed fetches e and decompresses its zstd-compressed payload.
func (a *Archive) FetchDecompressed(e Entry) ([]byte, error) {
	raw, err := a.Fetch(e)
	if err != nil {
		return nil, err
	}
	a.decOnce.Do(func() {
		a.dec, a.decErr = zstd.NewReader(nil)
	})
	if a.decErr != nil {
		return nil, fmt.Errorf("zstd decoder: %w", a.decErr)
	}
	out, err := a.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", e.Name, err)
	}
	return out, nil
}

// Close releases the memory map. Slices returned by Fetch are invalid
// afterwards.
func (a *Archive) Close() error {
	if a.dec != nil {
		a.dec.Close()
	}
	if !a.mapped {
		a.data = nil
		return nil
	}
	data := a.data
	a.data = nil
	a.mapped = false
	return munmapFile(data)
}
