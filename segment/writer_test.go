package segment

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/keys"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/query"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/vector"
)

// identityMap maps row i to token i over n rows, the simplest monotone pk
// layout. Expected tokens in assertions are then just row ids.
func identityMap(t *testing.T, n int) pk.Map {
	t.Helper()
	tokens := make([]rangeiter.Token, n)
	for i := range tokens {
		tokens[i] = rangeiter.Token(i)
	}
	m, err := pk.NewMemoryMap(tokens)
	require.NoError(t, err)
	return m
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// openColumn loads a flushed column the way the read path does: whole
// component files plus the decoded segment metadata list.
func openColumn(t *testing.T, d Descriptor, index string, kind Kind, pkMap pk.Map, comp compress.Type) (*Resources, []Metadata) {
	t.Helper()

	metaData := readFile(t, d.FileForIndex(Meta, index))
	require.NoError(t, diskio.CheckHeader(metaData, componentMagic, componentVersion))
	require.NoError(t, diskio.CheckFooter(metaData))
	metas, err := ReadMetadata(diskio.NewInputAt(metaData, diskio.HeaderSize))
	require.NoError(t, err)

	res := &Resources{PKMap: pkMap, Compression: comp}
	switch kind {
	case Numeric:
		res.Tree = readFile(t, d.FileForIndex(BalancedTree, index))
		res.TreePost = readFile(t, d.FileForIndex(TreePostingLists, index))
	case Literal:
		res.Terms = readFile(t, d.FileForIndex(TermsData, index))
		res.Postings = readFile(t, d.FileForIndex(PostingLists, index))
	case Vector:
		res.Ordinals = readFile(t, d.FileForIndex(OrdinalMap, index))
	}
	return res, metas
}

func drainTokens(t *testing.T, it rangeiter.Iterator) []rangeiter.Token {
	t.Helper()
	var got []rangeiter.Token
	for it.HasNext() {
		got = append(got, it.Next())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return got
}

func rowTokens(rows ...int64) []rangeiter.Token {
	toks := make([]rangeiter.Token, len(rows))
	for i, r := range rows {
		toks[i] = rangeiter.Token(r)
	}
	return toks
}

func TestFlushNumeric(t *testing.T) {
	d := testDescriptor(t)
	pkMap := identityMap(t, 1200)

	// Rows 1000..1099, value = row % 10, terms pre-sorted by encoded value.
	pairs := make([]TermRows, 10)
	for v := range pairs {
		pairs[v].Term = keys.EncodeInt64(int64(v))
		for row := int64(1000); row < 1100; row++ {
			if int(row%10) == v {
				pairs[v].Rows = append(pairs[v].Rows, row)
			}
		}
	}

	w := NewFlushWriter(fs.Default, d, "age_idx", Numeric, pkMap, WriterConfig{Compression: compress.LZ4})
	require.NoError(t, w.Flush(FlushInput{Terms: SliceTerms(pairs), RowIDOffset: 1000}))

	assert.FileExists(t, d.FileForIndex(ColumnCompletionMarker, "age_idx"))
	require.NoError(t, Validate(fs.Default, d, "age_idx", Numeric))
	require.NoError(t, ValidateChecksum(fs.Default, d, "age_idx", Numeric))

	res, metas := openColumn(t, d, "age_idx", Numeric, pkMap, compress.LZ4)
	require.Len(t, metas, 1)
	meta := metas[0]
	assert.Equal(t, int64(1000), meta.RowIDOffset)
	assert.Equal(t, int64(100), meta.NumRows)
	assert.Equal(t, int64(1000), meta.MinRowID)
	assert.Equal(t, int64(1099), meta.MaxRowID)
	assert.Equal(t, rangeiter.Token(1000), meta.MinKey)
	assert.Equal(t, rangeiter.Token(1099), meta.MaxKey)
	assert.Equal(t, keys.EncodeInt64(0), meta.MinTerm)
	assert.Equal(t, keys.EncodeInt64(9), meta.MaxTerm)
	assert.Equal(t, "1", meta.Components[BalancedTree].Attributes["leaves"])

	s, err := OpenSearcher(Numeric, res, meta)
	require.NoError(t, err)

	t.Run("range", func(t *testing.T) {
		qctx := query.NewContext()
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "age", Op: query.Range,
			Lower: keys.EncodeInt64(3), Upper: keys.EncodeInt64(4),
			LowerInclusive: true, UpperInclusive: true,
		}, qctx)
		require.NoError(t, err)

		var want []rangeiter.Token
		for row := int64(1000); row < 1100; row++ {
			if m := row % 10; m == 3 || m == 4 {
				want = append(want, rangeiter.Token(row))
			}
		}
		assert.Equal(t, want, drainTokens(t, it))
		assert.Equal(t, int64(1), qctx.SegmentsHit())
		assert.Equal(t, int64(20), qctx.PostingsDecoded())
		assert.Positive(t, qctx.TreeNodesVisited())
	})

	t.Run("equality", func(t *testing.T) {
		qctx := query.NewContext()
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "age", Op: query.Eq, Lower: keys.EncodeInt64(7),
		}, qctx)
		require.NoError(t, err)

		got := drainTokens(t, it)
		require.Len(t, got, 10)
		assert.Equal(t, rangeiter.Token(1007), got[0])
		assert.Equal(t, rangeiter.Token(1097), got[9])
	})

	t.Run("skip rides posting skip tables", func(t *testing.T) {
		qctx := query.NewContext()
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "age", Op: query.Gte, Lower: keys.EncodeInt64(0),
		}, qctx)
		require.NoError(t, err)
		defer it.Close()

		it.SkipTo(1050)
		require.True(t, it.HasNext())
		assert.GreaterOrEqual(t, it.Next(), rangeiter.Token(1050))
		require.NoError(t, it.Err())
	})

	t.Run("ann rejected", func(t *testing.T) {
		_, err := s.Search(context.Background(), &query.Predicate{
			Column: "age", Op: query.Ann, Vector: []float32{1}, Limit: 3,
		}, query.NewContext())
		require.ErrorIs(t, err, query.ErrInvalidPredicate)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Search(ctx, &query.Predicate{Column: "age", Op: query.Eq, Lower: keys.EncodeInt64(1)}, query.NewContext())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestFlushLiteral(t *testing.T) {
	d := testDescriptor(t)
	pkMap := identityMap(t, 64)

	pairs := []TermRows{
		{Term: []byte("app"), Rows: []int64{1, 9}},
		{Term: []byte("apple"), Rows: []int64{2, 9, 33}},
		{Term: []byte("apricot"), Rows: []int64{40}},
		{Term: []byte("banana"), Rows: []int64{5, 6, 7}},
		{Term: []byte("cherry"), Rows: []int64{9, 50}},
	}

	w := NewFlushWriter(fs.Default, d, "fruit_idx", Literal, pkMap, WriterConfig{Compression: compress.ZSTD})
	require.NoError(t, w.Flush(FlushInput{Terms: SliceTerms(pairs), MissingRows: []int64{3, 12}}))

	require.NoError(t, ValidateChecksum(fs.Default, d, "fruit_idx", Literal))
	assert.FileExists(t, d.FileForIndex(MissingValues, "fruit_idx"))

	res, metas := openColumn(t, d, "fruit_idx", Literal, pkMap, compress.ZSTD)
	require.Len(t, metas, 1)
	meta := metas[0]
	assert.Equal(t, []byte("app"), meta.MinTerm)
	assert.Equal(t, []byte("cherry"), meta.MaxTerm)
	assert.Equal(t, "5", meta.Components[TermsData].Attributes["terms"])
	require.Contains(t, meta.Components, MissingValues)

	s, err := OpenSearcher(Literal, res, meta)
	require.NoError(t, err)

	t.Run("equality", func(t *testing.T) {
		qctx := query.NewContext()
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "fruit", Op: query.Eq, Lower: []byte("banana"),
		}, qctx)
		require.NoError(t, err)
		assert.Equal(t, rowTokens(5, 6, 7), drainTokens(t, it))
		assert.Positive(t, qctx.TrieNodesVisited())
	})

	t.Run("absent term", func(t *testing.T) {
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "fruit", Op: query.Eq, Lower: []byte("mango"),
		}, query.NewContext())
		require.NoError(t, err)
		assert.Empty(t, drainTokens(t, it))
	})

	t.Run("prefix merges terms and dedups rows", func(t *testing.T) {
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "fruit", Op: query.Prefix, Lower: []byte("ap"),
		}, query.NewContext())
		require.NoError(t, err)
		// Row 9 appears under both app and apple, but surfaces once.
		assert.Equal(t, rowTokens(1, 2, 9, 33, 40), drainTokens(t, it))
	})

	t.Run("range", func(t *testing.T) {
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "fruit", Op: query.Range,
			Lower: []byte("apple"), Upper: []byte("banana"),
			LowerInclusive: false, UpperInclusive: true,
		}, query.NewContext())
		require.NoError(t, err)
		assert.Equal(t, rowTokens(5, 6, 7, 40), drainTokens(t, it))
	})

	t.Run("not equal scans everything", func(t *testing.T) {
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "fruit", Op: query.NotEq, Lower: []byte("banana"),
		}, query.NewContext())
		require.NoError(t, err)
		// Exclusion happens downstream; the index hands back the full scan.
		assert.Equal(t, rowTokens(1, 2, 5, 6, 7, 9, 33, 40, 50), drainTokens(t, it))
	})
}

// stubGraph orders ordinals by distance of their id to the query's first
// component, a stand-in for real similarity.
type stubGraph struct {
	size int
}

func (g *stubGraph) Size() int { return g.size }

func (g *stubGraph) Search(_ context.Context, q []float32, limit int, accept func(vector.Ordinal) bool) ([]vector.Ordinal, error) {
	var out []vector.Ordinal
	for i := 0; i < g.size && len(out) < limit; i++ {
		ord := vector.Ordinal(i)
		if accept == nil || accept(ord) {
			out = append(out, ord)
		}
	}
	return out, nil
}

type graphBlob []byte

func (b graphBlob) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b)
	return int64(n), err
}

func TestFlushVector(t *testing.T) {
	d := testDescriptor(t)
	pkMap := identityMap(t, 32)

	ob := vector.NewBuilder()
	require.NoError(t, ob.Add(0, 3))
	require.NoError(t, ob.Add(1, 7))
	require.NoError(t, ob.Add(1, 20))
	require.NoError(t, ob.Add(2, 11))

	blob := graphBlob("opaque graph bytes, no framing")
	w := NewFlushWriter(fs.Default, d, "vec_idx", Vector, pkMap, WriterConfig{})
	require.NoError(t, w.Flush(FlushInput{Vector: &VectorInput{Graph: blob, Ordinals: ob}}))

	// The graph component is exactly the engine's bytes.
	assert.Equal(t, []byte(blob), readFile(t, d.FileForIndex(VectorGraph, "vec_idx")))
	require.NoError(t, ValidateChecksum(fs.Default, d, "vec_idx", Vector))

	res, metas := openColumn(t, d, "vec_idx", Vector, pkMap, compress.None)
	res.Graph = &stubGraph{size: 3}
	require.Len(t, metas, 1)
	meta := metas[0]
	assert.Equal(t, int64(4), meta.NumRows)
	assert.Equal(t, int64(3), meta.MinRowID)
	assert.Equal(t, int64(20), meta.MaxRowID)
	assert.Equal(t, "3", meta.Components[OrdinalMap].Attributes["ordinals"])

	s, err := OpenSearcher(Vector, res, meta)
	require.NoError(t, err)

	t.Run("ann returns ascending rows", func(t *testing.T) {
		qctx := query.NewContext()
		it, err := s.Search(context.Background(), &query.Predicate{
			Column: "vec", Op: query.Ann, Vector: []float32{0.5}, Limit: 3,
		}, qctx)
		require.NoError(t, err)

		got := drainTokens(t, it)
		assert.Equal(t, rowTokens(3, 7, 11, 20), got)
		assert.Positive(t, qctx.GraphSearches())
	})

	t.Run("non-ann rejected", func(t *testing.T) {
		_, err := s.Search(context.Background(), &query.Predicate{
			Column: "vec", Op: query.Eq, Lower: []byte("x"),
		}, query.NewContext())
		require.ErrorIs(t, err, query.ErrInvalidPredicate)
	})
}

func TestFlushEmptyColumn(t *testing.T) {
	d := testDescriptor(t)
	pkMap := identityMap(t, 8)

	// A stale component from an earlier generation must go away.
	stale := d.FileForIndex(BalancedTree, "age_idx")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))

	w := NewFlushWriter(fs.Default, d, "age_idx", Numeric, pkMap, WriterConfig{})
	require.NoError(t, w.Flush(FlushInput{Terms: SliceTerms(nil)}))

	assert.FileExists(t, d.FileForIndex(ColumnCompletionMarker, "age_idx"))
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, d.FileForIndex(Meta, "age_idx"))
}

func TestFlushAbortLeavesNothing(t *testing.T) {
	d := testDescriptor(t)
	pkMap := identityMap(t, 128)

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("balanced-tree", fs.Fault{FailAfterBytes: 16})

	pairs := make([]TermRows, 64)
	for v := range pairs {
		pairs[v].Term = keys.EncodeInt64(int64(v))
		pairs[v].Rows = []int64{int64(v)}
	}

	w := NewFlushWriter(ffs, d, "age_idx", Numeric, pkMap, WriterConfig{})
	err := w.Flush(FlushInput{Terms: SliceTerms(pairs)})
	require.ErrorIs(t, err, fs.ErrInjected)

	for _, kind := range ColumnComponents(Numeric) {
		assert.NoFileExists(t, d.FileForIndex(kind, "age_idx"), kind.String())
	}
	assert.False(t, IsColumnBuildComplete(fs.Default, d, "age_idx"))
}

func TestGroupComponents(t *testing.T) {
	d := testDescriptor(t)

	tokens := []rangeiter.Token{-40, -40, -2, 0, 9, 9, 100}
	require.NoError(t, WriteGroupComponents(fs.Default, d, tokens))
	assert.True(t, IsGroupBuildComplete(fs.Default, d))

	tm, err := OpenTokenMap(d, true)
	require.NoError(t, err)
	defer tm.Close()

	assert.Equal(t, int64(len(tokens)), tm.NumRows())
	tok, err := tm.TokenForRow(2)
	require.NoError(t, err)
	assert.Equal(t, rangeiter.Token(-2), tok)

	row, err := tm.CeilingRow(9)
	require.NoError(t, err)
	assert.Equal(t, int64(4), row)
}

func TestOpenTokenMapCorrupted(t *testing.T) {
	d := testDescriptor(t)
	require.NoError(t, WriteGroupComponents(fs.Default, d, []rangeiter.Token{1, 2, 3}))

	path := d.FileFor(TokenValues)
	data := readFile(t, path)
	data[diskio.HeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	// Structure still parses; only the checksum catches payload damage.
	tm, err := OpenTokenMap(d, false)
	require.NoError(t, err)
	tm.Close()

	_, err = OpenTokenMap(d, true)
	require.ErrorIs(t, err, ErrCorrupted)
}
