package segment

import (
	"context"
	"fmt"

	"github.com/hupe1980/sstindex/bintree"
	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/postings"
	"github.com/hupe1980/sstindex/query"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/trie"
	"github.com/hupe1980/sstindex/vector"
)

// Resources are the read-side views a column index's segments share: whole
// component files, mmap-backed and immutable, plus the group primary-key
// map. Metadata refs locate each segment's extent inside them. The caller
// owns every resource's lifecycle.
type Resources struct {
	PKMap       pk.Map
	Compression compress.Type

	Tree     []byte
	TreePost []byte
	Terms    []byte
	Postings []byte
	Ordinals []byte
	Missing  []byte
	Graph    vector.Graph
}

// Searcher serves predicates against one segment of one column index.
type Searcher interface {
	// Search resolves pred to a stream of non-decreasing partition
	// tokens. Readers are opened per call, so streams from concurrent
	// searches never share mutable state. The caller closes the stream.
	Search(ctx context.Context, pred *query.Predicate, qctx *query.Context) (rangeiter.Iterator, error)
}

// OpenSearcher returns the searcher matching the column kind.
func OpenSearcher(kind Kind, res *Resources, meta Metadata) (Searcher, error) {
	switch kind {
	case Numeric:
		return &numericSearcher{res: res, meta: meta}, nil
	case Literal:
		return &literalSearcher{res: res, meta: meta}, nil
	case Vector:
		return &vectorSearcher{res: res, meta: meta}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func (m Metadata) ref(kind ComponentKind) (ComponentRef, error) {
	ref, ok := m.Components[kind]
	if !ok {
		return ComponentRef{}, fmt.Errorf("%w: segment metadata lists no %s component", ErrCorrupted, kind)
	}
	return ref, nil
}

// OpenMissing streams the tokens of rows the segment indexed no value for.
// Segments flushed without the optional missing-values component yield an
// empty stream.
func (m Metadata) OpenMissing(res *Resources, qctx *query.Context) (rangeiter.Iterator, error) {
	ref, ok := m.Components[MissingValues]
	if !ok {
		return rangeiter.Empty(), nil
	}
	pl, err := postings.OpenReader(res.Missing, ref.Root, res.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to open missing-values postings: %w", err)
	}
	return newTokenStream(pl, m, res.PKMap, qctx), nil
}

type numericSearcher struct {
	res  *Resources
	meta Metadata
}

func (s *numericSearcher) Search(ctx context.Context, pred *query.Predicate, qctx *query.Context) (rangeiter.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch pred.Op {
	case query.Ann, query.Prefix:
		return nil, fmt.Errorf("%w: operator %s on numeric column %q", query.ErrInvalidPredicate, pred.Op, pred.Column)
	}

	treeRef, err := s.meta.ref(BalancedTree)
	if err != nil {
		return nil, err
	}
	r, err := bintree.OpenReader(s.res.Tree, treeRef.Root, s.res.TreePost, s.res.Compression)
	if err != nil {
		return nil, err
	}

	lower, upper, lowerInc, upperInc := pred.Bounds()
	pl, err := r.Search(bintree.Range{
		Lower:          lower,
		Upper:          upper,
		LowerInclusive: lowerInc,
		UpperInclusive: upperInc,
	})
	qctx.AddTreeNodesVisited(r.NodesVisited())
	if err != nil {
		return nil, err
	}
	qctx.AddSegmentsHit(1)
	return newTokenStream(pl, s.meta, s.res.PKMap, qctx), nil
}

type literalSearcher struct {
	res  *Resources
	meta Metadata
}

func (s *literalSearcher) Search(ctx context.Context, pred *query.Predicate, qctx *query.Context) (rangeiter.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pred.Op == query.Ann {
		return nil, fmt.Errorf("%w: operator %s on literal column %q", query.ErrInvalidPredicate, pred.Op, pred.Column)
	}

	termsRef, err := s.meta.ref(TermsData)
	if err != nil {
		return nil, err
	}
	r, err := trie.OpenReader(s.res.Terms, termsRef.Offset, termsRef.Length)
	if err != nil {
		return nil, err
	}

	roots, err := s.matchingRoots(r, pred)
	qctx.AddTrieNodesVisited(r.NodesVisited())
	if err != nil {
		return nil, err
	}
	qctx.AddSegmentsHit(1)
	if len(roots) == 0 {
		return rangeiter.Empty(), nil
	}

	lists := make([]postings.PostingList, 0, len(roots))
	for _, root := range roots {
		pl, err := postings.OpenReader(s.res.Postings, root, s.res.Compression)
		if err != nil {
			for _, open := range lists {
				open.Close()
			}
			return nil, err
		}
		lists = append(lists, pl)
	}
	return newTokenStream(postings.Merge(lists), s.meta, s.res.PKMap, qctx), nil
}

// matchingRoots resolves the posting roots of every term the predicate
// matches. Ranges and not-equal walk the dictionary; exclusion for
// not-equal happens downstream during read verification.
func (s *literalSearcher) matchingRoots(r *trie.Reader, pred *query.Predicate) ([]int64, error) {
	switch pred.Op {
	case query.Eq:
		root, err := r.Lookup(pred.Lower)
		if err != nil {
			return nil, err
		}
		if root == trie.NotFound {
			return nil, nil
		}
		return []int64{root}, nil
	case query.Prefix:
		return collectRoots(r.Prefix(pred.Lower))
	default:
		lower, upper, lowerInc, upperInc := pred.Bounds()
		return collectRoots(r.Range(lower, upper, lowerInc, upperInc))
	}
}

func collectRoots(it *trie.Iterator) ([]int64, error) {
	var roots []int64
	for {
		_, root, ok := it.Next()
		if !ok {
			return roots, it.Err()
		}
		roots = append(roots, root)
	}
}

type vectorSearcher struct {
	res  *Resources
	meta Metadata
}

func (s *vectorSearcher) Search(ctx context.Context, pred *query.Predicate, qctx *query.Context) (rangeiter.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pred.Op != query.Ann {
		return nil, fmt.Errorf("%w: operator %s on vector column %q", query.ErrInvalidPredicate, pred.Op, pred.Column)
	}
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	if s.res.Graph == nil {
		return nil, fmt.Errorf("vector column %q has no graph attached", pred.Column)
	}

	omRef, err := s.meta.ref(OrdinalMap)
	if err != nil {
		return nil, err
	}
	om, err := vector.OpenMap(s.res.Ordinals, omRef.Offset, omRef.Length)
	if err != nil {
		return nil, err
	}

	// Approximate matches arrive by similarity, not row order. Batches
	// are drained until enough rows are on hand, then merged into one
	// ascending stream.
	results := vector.NewSearcher(s.res.Graph, om).Search(pred.Vector, pred.Limit)
	var (
		batches []postings.PostingList
		total   int64
	)
	for total < int64(pred.Limit) {
		batch, err := results.NextBatch(ctx)
		if err != nil {
			for _, open := range batches {
				open.Close()
			}
			return nil, err
		}
		qctx.AddGraphSearches(1)
		if batch.Size() == 0 {
			break
		}
		batches = append(batches, batch)
		total += batch.Size()
	}
	qctx.AddSegmentsHit(1)
	if len(batches) == 0 {
		return rangeiter.Empty(), nil
	}
	return newTokenStream(postings.Merge(batches), s.meta, s.res.PKMap, qctx), nil
}

// newTokenStream lifts a segment-local posting list into partition-token
// order. Tokens ascend with row id inside a table segment, so translating
// each posting through the primary-key map preserves order; SkipTo maps a
// token bound back to a row target and rides the posting skip tables.
func newTokenStream(pl postings.PostingList, meta Metadata, pkMap pk.Map, qctx *query.Context) rangeiter.Iterator {
	p := postings.NewPeekable(pl)
	var pending error

	next := func() (rangeiter.Token, bool, error) {
		if pending != nil {
			return 0, false, pending
		}
		row, err := p.Next()
		if err != nil {
			return 0, false, err
		}
		if row == postings.EndOfList {
			return 0, false, nil
		}
		qctx.AddPostingsDecoded(1)
		tok, err := pkMap.TokenForRow(meta.RowIDOffset + row)
		if err != nil {
			return 0, false, err
		}
		return tok, true, nil
	}

	skip := func(target rangeiter.Token) {
		if pending != nil {
			return
		}
		row, err := pkMap.CeilingRow(target)
		if err != nil {
			pending = err
			return
		}
		if row == pk.RowNotFound {
			// No row reaches the target token; park the source at the
			// end so the next pull reports exhaustion.
			row = postings.EndOfList
		} else {
			row -= meta.RowIDOffset
			if row < 0 {
				row = 0
			}
		}
		if err := p.AdvanceHead(row); err != nil {
			pending = err
		}
	}

	closeStream := func() error {
		qctx.AddBlocksSkipped(postings.SkippedBlocks(p))
		return p.Close()
	}

	return rangeiter.NewStream(
		rangeiter.Stats{Min: meta.MinKey, Max: meta.MaxKey, Count: pl.Size()},
		next, skip, closeStream,
	)
}
