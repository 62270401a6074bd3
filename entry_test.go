package ffindex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndex(t *testing.T) {
	in := "a\t0\t6\nb\t6\t1\nc\t7\t120\n"

	entries, err := ParseIndex(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Name: "a", Offset: 0, Length: 6}, entries[0])
	assert.Equal(t, Entry{Name: "b", Offset: 6, Length: 1}, entries[1])
	assert.Equal(t, Entry{Name: "c", Offset: 7, Length: 120}, entries[2])
}

func TestParseIndexTrailingBlankLines(t *testing.T) {
	entries, err := ParseIndex(strings.NewReader("a\t0\t6\n\n"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseIndexEmpty(t *testing.T) {
	entries, err := ParseIndex(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseIndexMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing fields", "a\t0\n"},
		{"no tabs", "abc\n"},
		{"bad offset", "a\tx\t6\n"},
		{"bad length", "a\t0\tx\n"},
		{"negative offset", "a\t-1\t6\n"},
		{"empty name", "\t0\t6\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIndex(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, ErrBadIndex)
		})
	}
}

func TestEntryPayloadSize(t *testing.T) {
	assert.Equal(t, uint64(5), Entry{Length: 6}.PayloadSize())
	assert.Equal(t, uint64(0), Entry{Length: 1}.PayloadSize())
	assert.Equal(t, uint64(0), Entry{}.PayloadSize())
}
