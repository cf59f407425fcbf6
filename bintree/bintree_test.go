package bintree

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/keys"
	"github.com/hupe1980/sstindex/postings"
)

type pair struct {
	value int64
	row   int64
}

// makePairs produces n rows in ascending value order with runs of three
// equal values and a shuffled row assignment.
func makePairs(n int, rnd *rand.Rand) []pair {
	rows := rnd.Perm(n)
	pairs := make([]pair, n)
	for i := 0; i < n; i++ {
		pairs[i] = pair{value: int64(i / 3 * 5), row: int64(rows[i])}
	}
	return pairs
}

func newOutput(t *testing.T, path string) *diskio.Output {
	t.Helper()
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	return diskio.NewOutput(f)
}

func buildTree(t *testing.T, pairs []pair, leafSize int, codec compress.Type) *Reader {
	t.Helper()
	dir := t.TempDir()
	treePath := filepath.Join(dir, "tree.db")
	leafPath := filepath.Join(dir, "leaf.db")

	leafOut := newOutput(t, leafPath)
	w := NewWriter(leafOut, keys.Int64Width, leafSize, codec)
	for _, p := range pairs {
		require.NoError(t, w.Add(keys.EncodeInt64(p.value), p.row))
	}

	treeOut := newOutput(t, treePath)
	res, err := w.Finish(treeOut)
	require.NoError(t, err)
	require.NoError(t, leafOut.Close())
	require.NoError(t, treeOut.Close())
	require.Equal(t, int64(len(pairs)), res.NumRows)

	treeData, err := os.ReadFile(treePath)
	require.NoError(t, err)
	leafData, err := os.ReadFile(leafPath)
	require.NoError(t, err)

	r, err := OpenReader(treeData, res.Root, leafData, codec)
	require.NoError(t, err)
	require.Equal(t, int64(len(pairs)), r.NumRows())
	return r
}

func drainList(t *testing.T, pl postings.PostingList) []int64 {
	t.Helper()
	defer func() { require.NoError(t, pl.Close()) }()
	var rows []int64
	for {
		row, err := pl.Next()
		require.NoError(t, err)
		if row == postings.EndOfList {
			return rows
		}
		rows = append(rows, row)
	}
}

func expectRows(pairs []pair, match func(v int64) bool) []int64 {
	var rows []int64
	for _, p := range pairs {
		if match(p.value) {
			rows = append(rows, p.row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	return rows
}

func window(lo, hi int64) Range {
	return Range{
		Lower:          keys.EncodeInt64(lo),
		Upper:          keys.EncodeInt64(hi),
		LowerInclusive: true,
		UpperInclusive: true,
	}
}

func TestWriterValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("value width", func(t *testing.T) {
		out := newOutput(t, filepath.Join(dir, "w1.db"))
		w := NewWriter(out, keys.Int64Width, 4, compress.None)
		assert.ErrorIs(t, w.Add([]byte{1, 2}, 0), ErrValueWidth)
	})

	t.Run("out of order", func(t *testing.T) {
		out := newOutput(t, filepath.Join(dir, "w2.db"))
		w := NewWriter(out, keys.Int64Width, 4, compress.None)
		require.NoError(t, w.Add(keys.EncodeInt64(5), 0))
		assert.ErrorIs(t, w.Add(keys.EncodeInt64(4), 1), ErrOutOfOrder)
	})

	t.Run("no rows", func(t *testing.T) {
		leafOut := newOutput(t, filepath.Join(dir, "w3.db"))
		treeOut := newOutput(t, filepath.Join(dir, "w4.db"))
		w := NewWriter(leafOut, keys.Int64Width, 4, compress.None)
		_, err := w.Finish(treeOut)
		assert.ErrorIs(t, err, ErrNoRows)
	})
}

func TestRoundTripPerLeaf(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	pairs := makePairs(200, rnd)
	leafSize := 16

	r := buildTree(t, pairs, leafSize, compress.None)
	require.Equal(t, 13, r.NumLeaves())
	assert.Equal(t, int64(0), keys.DecodeInt64(r.MinValue()))
	assert.Equal(t, pairs[len(pairs)-1].value, keys.DecodeInt64(r.MaxValue()))

	visited := 0
	err := r.VisitLeaves(func(l Leaf) error {
		lo := l.Ordinal() * leafSize
		hi := lo + leafSize
		if hi > len(pairs) {
			hi = len(pairs)
		}
		exp := append([]pair(nil), pairs[lo:hi]...)
		sort.Slice(exp, func(i, j int) bool { return exp[i].row < exp[j].row })

		require.Equal(t, len(exp), l.Count())
		pl, err := l.Postings()
		require.NoError(t, err)
		rows := drainList(t, pl)
		require.Len(t, rows, len(exp))
		for i, p := range exp {
			assert.Equal(t, p.row, rows[i])
			assert.Equal(t, p.value, keys.DecodeInt64(l.Value(i)))
		}
		visited++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 13, visited)
}

func TestSearch(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	pairs := makePairs(500, rnd)

	for _, codec := range []compress.Type{compress.None, compress.LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			r := buildTree(t, pairs, 16, codec)

			cases := []struct {
				name  string
				q     Range
				match func(v int64) bool
			}{
				{"full scan", Range{}, func(int64) bool { return true }},
				{"window", window(100, 200), func(v int64) bool { return v >= 100 && v <= 200 }},
				{
					"exclusive bounds",
					Range{Lower: keys.EncodeInt64(100), Upper: keys.EncodeInt64(200)},
					func(v int64) bool { return v > 100 && v < 200 },
				},
				{"point hit", window(50, 50), func(v int64) bool { return v == 50 }},
				{"point miss", window(52, 52), func(v int64) bool { return false }},
				{
					"lower bound only",
					Range{Lower: keys.EncodeInt64(700), LowerInclusive: true},
					func(v int64) bool { return v >= 700 },
				},
				{
					"upper bound only",
					Range{Upper: keys.EncodeInt64(30), UpperInclusive: true},
					func(v int64) bool { return v <= 30 },
				},
				{"above all values", window(10000, 20000), func(v int64) bool { return false }},
			}
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					pl, err := r.Search(tc.q)
					require.NoError(t, err)
					assert.Equal(t, expectRows(pairs, tc.match), drainList(t, pl))
				})
			}
		})
	}
}

func TestSearchSingleLeaf(t *testing.T) {
	pairs := []pair{{10, 4}, {20, 0}, {20, 3}, {30, 1}, {40, 2}}
	r := buildTree(t, pairs, DefaultLeafSize, compress.None)
	require.Equal(t, 1, r.NumLeaves())

	pl, err := r.Search(window(20, 30))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 3}, drainList(t, pl))
}

func TestDuplicateRunAcrossLeaves(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	rows := rnd.Perm(100)
	pairs := make([]pair, 100)
	for i := range pairs {
		v := int64(100)
		if i >= 50 {
			v = 200
		}
		pairs[i] = pair{value: v, row: int64(rows[i])}
	}

	r := buildTree(t, pairs, 8, compress.None)
	require.Equal(t, 13, r.NumLeaves())

	first, err := r.Search(window(100, 100))
	require.NoError(t, err)
	assert.Equal(t, expectRows(pairs, func(v int64) bool { return v == 100 }), drainList(t, first))

	second, err := r.Search(window(200, 200))
	require.NoError(t, err)
	assert.Equal(t, expectRows(pairs, func(v int64) bool { return v == 200 }), drainList(t, second))
}
