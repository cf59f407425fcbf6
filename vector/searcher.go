package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sstindex/postings"
)

// Graph is the similarity structure searched for approximate neighbors. Its
// construction and storage live outside this package; only the ordinal
// bridge is owned here.
type Graph interface {
	// Size returns the number of ordinals in the graph.
	Size() int
	// Search returns up to limit ordinals in decreasing similarity to
	// query, visiting only ordinals the accept test admits.
	Search(ctx context.Context, query []float32, limit int, accept func(Ordinal) bool) ([]Ordinal, error)
}

// Searcher turns approximate graph matches into ascending row-id streams.
type Searcher struct {
	graph Graph
	om    *OrdinalMap
}

func NewSearcher(graph Graph, om *OrdinalMap) *Searcher {
	return &Searcher{graph: graph, om: om}
}

// Search starts a resumable approximate search. The first batch holds the
// top limit matches; each further batch re-searches with a doubled limit,
// skipping everything already returned.
func (s *Searcher) Search(query []float32, limit int) *Results {
	if limit < 1 {
		limit = 1
	}
	return &Results{
		searcher: s,
		query:    query,
		limit:    limit,
		seen:     roaring.New(),
	}
}

// Results is a cursor over successive approximate-search batches. Batches
// are disjoint; rows within one batch ascend.
type Results struct {
	searcher *Searcher
	query    []float32
	limit    int
	seen     *roaring.Bitmap
	done     bool
}

// NextBatch runs one more graph search and returns its rows ascending. An
// empty batch means the graph is exhausted; later calls stay empty.
func (r *Results) NextBatch(ctx context.Context) (postings.PostingList, error) {
	if r.done {
		return postings.NewSlice(nil), nil
	}

	s := r.searcher
	accept := s.om.IgnoringDeleted(func(ord Ordinal) bool {
		return !r.seen.Contains(uint32(ord))
	})
	ords, err := s.graph.Search(ctx, r.query, r.limit, accept)
	if err != nil {
		return nil, fmt.Errorf("graph search failed: %w", err)
	}
	if len(ords) == 0 {
		r.done = true
		return postings.NewSlice(nil), nil
	}

	var rows []int64
	for _, ord := range ords {
		r.seen.Add(uint32(ord))
		ordRows, err := s.om.RowsForOrdinal(ord)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ordRows...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })

	r.limit *= 2
	if int(r.seen.GetCardinality()) >= s.graph.Size()-s.om.DeletedCount() {
		r.done = true
	}
	return postings.NewSlice(rows), nil
}
