package postings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
)

// writeList writes one posting list into a bare file and returns the file
// bytes and the list's root position.
func writeList(t *testing.T, rows []int64, blockSize int, compression compress.Type) ([]byte, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postings.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	out := diskio.NewOutput(f)
	w := NewWriter(out, blockSize, compression)
	for _, row := range rows {
		require.NoError(t, w.Add(row))
	}
	root, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data, root
}

func drain(t *testing.T, pl PostingList) []int64 {
	t.Helper()
	var rows []int64
	for {
		row, err := pl.Next()
		require.NoError(t, err)
		if row == EndOfList {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	rows := make([]int64, 0, 1000)
	for i := int64(0); i < 1000; i++ {
		rows = append(rows, i*3)
	}

	for _, compression := range []compress.Type{compress.None, compress.LZ4, compress.ZSTD} {
		t.Run(compression.String(), func(t *testing.T) {
			data, root := writeList(t, rows, 128, compression)

			r, err := OpenReader(data, root, compression)
			require.NoError(t, err)
			assert.Equal(t, int64(1000), r.Size())
			assert.Equal(t, rows, drain(t, r))
			require.NoError(t, r.Close())
		})
	}
}

func TestReaderAdvance(t *testing.T) {
	rows := []int64{2, 5, 9, 100, 101, 250, 300, 512, 513, 700}
	data, root := writeList(t, rows, 4, compress.LZ4)

	r, err := OpenReader(data, root, compress.LZ4)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Advance(6)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)

	// Skips a whole block forward.
	got, err = r.Advance(260)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got)

	// Exact hit.
	got, err = r.Advance(512)
	require.NoError(t, err)
	assert.Equal(t, int64(512), got)

	// Past the end.
	got, err = r.Advance(9999)
	require.NoError(t, err)
	assert.Equal(t, EndOfList, got)

	// Stays exhausted.
	got, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EndOfList, got)
}

func TestEmptyList(t *testing.T) {
	data, root := writeList(t, nil, 0, compress.None)

	r, err := OpenReader(data, root, compress.None)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.Size())
	assert.Empty(t, drain(t, r))
}

func TestWriterRejectsNonMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postings.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(diskio.NewOutput(f), 0, compress.None)
	require.NoError(t, w.Add(10))
	assert.ErrorIs(t, w.Add(10), ErrNonMonotonic)
	assert.ErrorIs(t, w.Add(3), ErrNonMonotonic)
}

func TestSliceAdvance(t *testing.T) {
	s := NewSlice([]int64{1, 4, 6, 8})

	got, err := s.Advance(5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	got, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(8), got)

	got, err = s.Advance(100)
	require.NoError(t, err)
	assert.Equal(t, EndOfList, got)
}

func TestBitmapAdapter(t *testing.T) {
	bm := roaring.New()
	bm.AddMany([]uint32{3, 7, 40, 90})

	b := NewBitmap(bm)
	assert.Equal(t, int64(4), b.Size())

	got, err := b.Advance(8)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got)

	assert.Equal(t, []int64{90}, drain(t, b))
}

func TestPeekable(t *testing.T) {
	p := NewPeekable(NewSlice([]int64{1, 5, 9}))

	head, err := p.Peek()
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	// Peek does not consume.
	head, err = p.Peek()
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	got, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	require.NoError(t, p.AdvanceHead(6))
	head, err = p.Peek()
	require.NoError(t, err)
	assert.Equal(t, int64(9), head)

	got, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)

	head, err = p.Peek()
	require.NoError(t, err)
	assert.Equal(t, EndOfList, head)
}

func TestMergeDeduplicates(t *testing.T) {
	m := Merge([]PostingList{
		NewSlice([]int64{1, 3, 5, 7}),
		NewSlice([]int64{2, 3, 6, 7}),
		NewSlice([]int64{3, 8}),
	})
	defer m.Close()

	assert.Equal(t, int64(10), m.Size())
	assert.Equal(t, []int64{1, 2, 3, 5, 6, 7, 8}, drain(t, m))
}

func TestMergeAdvance(t *testing.T) {
	m := Merge([]PostingList{
		NewSlice([]int64{1, 10, 20}),
		NewSlice([]int64{5, 15, 25}),
	})
	defer m.Close()

	got, err := m.Advance(12)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got)

	assert.Equal(t, []int64{20, 25}, drain(t, m))
}

func TestMergeSingleChildPassesThrough(t *testing.T) {
	child := NewSlice([]int64{4, 5})
	m := Merge([]PostingList{child})
	assert.Same(t, child, m)
}
