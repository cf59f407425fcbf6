package sstindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/sstindex/query"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/segment"
)

// Search resolves one predicate against every index segment of the column
// and concatenates the per-segment streams into one non-decreasing token
// stream. Duplicates across segments are preserved; deduplication belongs
// to row materialization downstream. The caller closes the stream.
//
// The context is honored while segment readers open, not per element.
func (ci *ColumnIndex) Search(ctx context.Context, pred *query.Predicate, qctx *query.Context) (rangeiter.Iterator, error) {
	if ci.ix.closed.Load() {
		return nil, ErrClosed
	}
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	if pred.Column != ci.name {
		return nil, fmt.Errorf("%w: predicate on column %q against index %q", query.ErrInvalidPredicate, pred.Column, ci.name)
	}

	cb := rangeiter.NewConcatBuilder()
	for _, meta := range ci.metas {
		s, err := segment.OpenSearcher(ci.kind, ci.res, meta)
		if err != nil {
			cb.CloseChildren()
			return nil, err
		}
		it, err := s.Search(ctx, pred, qctx)
		if err != nil {
			cb.CloseChildren()
			return nil, fmt.Errorf("failed to search column index %q: %w", ci.name, err)
		}
		cb.Add(it)
	}

	ci.ix.logger.Debug("column index search",
		slog.String("index", ci.name),
		slog.String("op", pred.Op.String()),
		slog.Int("segments", cb.Len()),
	)
	return cb.Build(), nil
}

// Missing streams the tokens of rows the column indexed no value for, in
// non-decreasing order across all segments.
func (ci *ColumnIndex) Missing(ctx context.Context, qctx *query.Context) (rangeiter.Iterator, error) {
	if ci.ix.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cb := rangeiter.NewConcatBuilder()
	for _, meta := range ci.metas {
		it, err := meta.OpenMissing(ci.res, qctx)
		if err != nil {
			cb.CloseChildren()
			return nil, err
		}
		cb.Add(it)
	}
	return cb.Build(), nil
}

// Search resolves a conjunction of predicates. A single predicate streams
// straight from its column; compound predicates intersect the per-column
// streams, scanning at most the configured intersection limit of clauses
// and keeping the most selective ones. When the limit discards clauses the
// result is a superset of the true intersection and the query executor
// re-checks rows downstream.
//
// Work is recorded in qctx and logged at Debug once the stream is closed.
func (ix *Index) Search(ctx context.Context, preds []query.Predicate, qctx *query.Context) (rangeiter.Iterator, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("%w: no predicates", query.ErrInvalidPredicate)
	}

	start := time.Now()
	ib := rangeiter.NewIntersectBuilder().WithLimit(ix.opts.intersectLimit)
	for i := range preds {
		pred := &preds[i]
		ci, ok := ix.columns[pred.Column]
		if !ok {
			ib.CloseChildren()
			return nil, fmt.Errorf("no index on column %q: %w", pred.Column, ErrNotFound)
		}
		it, err := ci.Search(ctx, pred, qctx)
		if err != nil {
			ib.CloseChildren()
			return nil, err
		}
		ib.Add(it)
	}

	return &completedIter{
		Iterator: ib.Build(),
		ix:       ix,
		start:    start,
		clauses:  len(preds),
		qctx:     qctx,
	}, nil
}

// completedIter logs the query's work counters once when the result stream
// is closed.
type completedIter struct {
	rangeiter.Iterator
	ix      *Index
	start   time.Time
	clauses int
	qctx    *query.Context
	logged  bool
}

func (c *completedIter) Close() error {
	err := c.Iterator.Close()
	if !c.logged {
		c.logged = true
		attrs := append([]slog.Attr{
			slog.Int("clauses", c.clauses),
			slog.Duration("took", time.Since(c.start)),
		}, c.qctx.Attrs()...)
		c.ix.logger.LogAttrs(context.Background(), slog.LevelDebug, "search completed", attrs...)
	}
	return err
}
