package ffindex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sentinel errors.
var (
	// ErrBadIndex is returned when an index file cannot be parsed.
	ErrBadIndex = errors.New("ffindex: malformed index")

	// ErrOutOfRange is returned when an entry position or byte range lies
	// outside the archive.
	ErrOutOfRange = errors.New("ffindex: out of range")

	// ErrNotFound is returned when a name does not exist in the index.
	ErrNotFound = errors.New("ffindex: no such entry")

	// ErrBadName is returned when a record name would corrupt the
	// line-oriented index format.
	ErrBadName = errors.New("ffindex: name contains tab or newline")
)

// Entry describes one record in an archive: a named byte range in the data
// blob. Length includes the trailing NUL sentinel, so the payload occupies
// Length-1 bytes starting at Offset.
type Entry struct {
	Name   string
	Offset uint64
	Length uint64
}

// PayloadSize returns the record's payload size, excluding the sentinel.
func (e Entry) PayloadSize() uint64 {
	if e.Length == 0 {
		return 0
	}
	return e.Length - 1
}

// ParseIndex reads an ffindex index: one "name\toffset\tlength" line per
// entry, in archive order. Offsets and lengths are decimal. Blank trailing
// lines are tolerated; anything else malformed fails with ErrBadIndex and
// the offending line number.
func ParseIndex(r io.Reader) ([]Entry, error) {
	entries := make([]Entry, 0, 1024)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		e, err := parseIndexLine(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadIndex, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return entries, nil
}

func parseIndexLine(text string) (Entry, error) {
	name, rest, ok := strings.Cut(text, "\t")
	if !ok || name == "" {
		return Entry{}, errors.New("missing name field")
	}
	offField, lenField, ok := strings.Cut(rest, "\t")
	if !ok {
		return Entry{}, errors.New("missing length field")
	}
	offset, err := strconv.ParseUint(offField, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("offset %q", offField)
	}
	length, err := strconv.ParseUint(lenField, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("length %q", lenField)
	}
	return Entry{Name: name, Offset: offset, Length: length}, nil
}

// appendIndexLine formats e as an index line into buf and returns the
// extended slice.
func appendIndexLine(buf []byte, e Entry) []byte {
	buf = append(buf, e.Name...)
	buf = append(buf, '\t')
	buf = strconv.AppendUint(buf, e.Offset, 10)
	buf = append(buf, '\t')
	buf = strconv.AppendUint(buf, e.Length, 10)
	buf = append(buf, '\n')
	return buf
}
