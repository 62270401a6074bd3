//go:build unix

package ffindex

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyFixture is a source archive plus output paths inside one temp dir.
type applyFixture struct {
	archive  *Archive
	dir      string
	dataOut  string
	indexOut string
	records  []record
}

func newApplyFixture(tb testing.TB, n int) *applyFixture {
	tb.Helper()

	records := make([]record, 0, n)
	for i := range n {
		records = append(records, record{
			name:    fmt.Sprintf("entry%03d", i),
			payload: fmt.Sprintf("payload %d of %d\n", i, n),
		})
	}

	dir := tb.TempDir()
	dataPath := filepath.Join(dir, "in.ffdata")
	indexPath := filepath.Join(dir, "in.ffindex")
	w, err := NewWriter(dataPath, indexPath)
	require.NoError(tb, err)
	for _, r := range records {
		_, err := w.Append([]byte(r.payload), r.name)
		require.NoError(tb, err)
	}
	require.NoError(tb, w.Close())

	a, err := Open(dataPath, indexPath)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = a.Close() })

	return &applyFixture{
		archive:  a,
		dir:      dir,
		dataOut:  filepath.Join(dir, "out.ffdata"),
		indexOut: filepath.Join(dir, "out.ffindex"),
		records:  records,
	}
}

// leftovers lists files in the fixture dir beyond the four archive files.
func (f *applyFixture) leftovers(tb testing.TB) []string {
	tb.Helper()

	known := map[string]bool{
		"in.ffdata": true, "in.ffindex": true,
		"out.ffdata": true, "out.ffindex": true,
	}
	dirents, err := os.ReadDir(f.dir)
	require.NoError(tb, err)
	var extra []string
	for _, d := range dirents {
		if !known[d.Name()] {
			extra = append(extra, d.Name())
		}
	}
	return extra
}

func TestApplyCat(t *testing.T) {
	f := newApplyFixture(t, 25)

	res, err := Apply(context.Background(), f.archive, "cat", nil,
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(2),
		ApplyWithParts(5))
	require.NoError(t, err)

	assert.Equal(t, 25, res.Entries)
	assert.Equal(t, 0, res.Failed)
	assert.NoError(t, res.Err())
	assert.Empty(t, res.MergeErrs)
	// n=25, W=2, parts=5 -> chunk size 3 -> 9 chunks, last of size 1.
	assert.Len(t, res.Chunks, 9)

	out, err := Open(f.dataOut, f.indexOut)
	require.NoError(t, err)
	defer out.Close()

	// cat copies input to output, so the final archive must reproduce the
	// source records, names and order included.
	require.Equal(t, len(f.records), out.Len())
	for i, r := range f.records {
		e, err := out.Entry(i)
		require.NoError(t, err)
		assert.Equal(t, r.name, e.Name)
		payload, err := out.Fetch(e)
		require.NoError(t, err)
		assert.Equal(t, r.payload, string(payload))
	}

	// Intermediate shards are gone after a fully successful merge.
	assert.Empty(t, f.leftovers(t))
}

func TestApplySingleWorker(t *testing.T) {
	f := newApplyFixture(t, 7)

	res, err := Apply(context.Background(), f.archive, "cat", nil,
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(1),
		ApplyWithParts(3))
	require.NoError(t, err)
	require.Equal(t, 7, res.Entries)

	out, err := Open(f.dataOut, f.indexOut)
	require.NoError(t, err)
	defer out.Close()
	require.Equal(t, 7, out.Len())
	assert.Empty(t, f.leftovers(t))
}

func TestApplyNoCapture(t *testing.T) {
	f := newApplyFixture(t, 6)

	var progress bytes.Buffer
	res, err := Apply(context.Background(), f.archive, "true", nil,
		ApplyWithWorkers(2),
		ApplyWithProgress(&progress))
	require.NoError(t, err)

	assert.Equal(t, 6, res.Entries)
	assert.Equal(t, 0, res.Failed)

	// No shard files at any level, but still one progress line per entry.
	assert.Empty(t, f.leftovers(t))
	assert.NoFileExists(t, f.dataOut)
	lines := strings.Split(strings.TrimRight(progress.String(), "\n"), "\n")
	assert.Len(t, lines, 6)
}

func TestApplyProgressFormat(t *testing.T) {
	f := newApplyFixture(t, 1)

	var progress bytes.Buffer
	_, err := Apply(context.Background(), f.archive, "true", nil,
		ApplyWithWorkers(1),
		ApplyWithProgress(&progress))
	require.NoError(t, err)

	e, err := f.archive.Entry(0)
	require.NoError(t, err)
	want := fmt.Sprintf("%s\t%d\t%d\t0\n", e.Name, e.Offset, e.Length)
	assert.Equal(t, want, progress.String())
}

func TestApplyChildFailuresAreCountedNotFatal(t *testing.T) {
	f := newApplyFixture(t, 5)

	res, err := Apply(context.Background(), f.archive, "sh", []string{"-c", "exit 2"},
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(2))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Entries)
	assert.Equal(t, 5, res.Failed)
	assert.NoError(t, res.Err())

	// Every record still produced an (empty) output record.
	out, err := Open(f.dataOut, f.indexOut)
	require.NoError(t, err)
	defer out.Close()
	require.Equal(t, 5, out.Len())
	for e := range out.Entries() {
		assert.Equal(t, uint64(1), e.Length)
	}
}

func TestApplyTransform(t *testing.T) {
	f := newApplyFixture(t, 4)

	res, err := Apply(context.Background(), f.archive, "tr", []string{"a-z", "A-Z"},
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(3),
		ApplyWithParts(2))
	require.NoError(t, err)
	require.Equal(t, 4, res.Entries)

	out, err := Open(f.dataOut, f.indexOut)
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 4, out.Len())
	for i, r := range f.records {
		e, err := out.Entry(i)
		require.NoError(t, err)
		payload, err := out.Fetch(e)
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(r.payload), string(payload))
	}
}

func TestApplyWcScenario(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "in.ffdata")
	indexPath := filepath.Join(dir, "in.ffindex")
	w, err := NewWriter(dataPath, indexPath)
	require.NoError(t, err)
	_, err = w.Append([]byte("hello"), "greeting")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	a, err := Open(dataPath, indexPath)
	require.NoError(t, err)
	defer a.Close()

	dataOut := filepath.Join(dir, "out.ffdata")
	indexOut := filepath.Join(dir, "out.ffindex")
	res, err := Apply(context.Background(), a, "wc", []string{"-c"},
		ApplyWithOutput(dataOut, indexOut),
		ApplyWithWorkers(1))
	require.NoError(t, err)
	require.Equal(t, 1, res.Entries)

	out, err := Open(dataOut, indexOut)
	require.NoError(t, err)
	defer out.Close()

	e, err := out.Lookup("greeting")
	require.NoError(t, err)
	payload, err := out.Fetch(e)
	require.NoError(t, err)
	// "hello" is stored with length 6 but only its 5 payload bytes reach
	// the child.
	assert.Equal(t, "5", strings.TrimSpace(string(payload)))
}

func TestApplyCompressedCapture(t *testing.T) {
	f := newApplyFixture(t, 3)

	_, err := Apply(context.Background(), f.archive, "cat", nil,
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(2),
		ApplyWithCompression(CompressionZstd))
	require.NoError(t, err)

	out, err := Open(f.dataOut, f.indexOut)
	require.NoError(t, err)
	defer out.Close()

	require.Equal(t, 3, out.Len())
	for i, r := range f.records {
		e, err := out.Entry(i)
		require.NoError(t, err)
		payload, err := out.FetchDecompressed(e)
		require.NoError(t, err)
		assert.Equal(t, r.payload, string(payload))
	}
	assert.Empty(t, f.leftovers(t))
}

func TestApplyOptionValidation(t *testing.T) {
	f := newApplyFixture(t, 1)

	_, err := Apply(context.Background(), f.archive, "cat", nil,
		ApplyWithOutput(f.dataOut, ""))
	require.Error(t, err)

	_, err = Apply(context.Background(), f.archive, "", nil)
	require.Error(t, err)
}

func TestApplyEmptyArchive(t *testing.T) {
	f := newApplyFixture(t, 0)

	res, err := Apply(context.Background(), f.archive, "cat", nil,
		ApplyWithOutput(f.dataOut, f.indexOut),
		ApplyWithWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Entries)
	assert.Empty(t, res.Chunks)
	// Nothing captured, so not even the final pair is created.
	assert.NoFileExists(t, f.dataOut)
}

func TestApplyCancelled(t *testing.T) {
	f := newApplyFixture(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Apply(ctx, f.archive, "cat", nil, ApplyWithWorkers(2))
	require.Error(t, err)
}
