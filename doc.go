// Package sstindex provides storage-attached secondary indexes for
// immutable table segments.
//
// A table segment is one sealed, sorted run of rows identified by a
// Descriptor. Each indexed column gets its own set of component files next
// to the segment, written once and never mutated: numeric columns a
// balanced range tree, literal columns a term trie, vector columns a
// similarity graph with an ordinal map, all sharing block-compressed
// posting lists and a per-segment token map that ties row ids back to
// partition tokens. Searches stream partition tokens in non-decreasing
// order, so results from many table segments and many columns compose by
// concatenation and intersection without buffering.
//
// # Writing
//
// A memtable flush writes each column through Flush and finishes the
// segment with WriteGroup:
//
//	d := sstindex.Descriptor{Dir: dir, Table: "events", Generation: 4}
//	err := sstindex.Flush(ctx, d, "age_idx", sstindex.Numeric, pkMap, sstindex.FlushInput{
//	    Terms: sstindex.SliceTerms(pairs), // ascending terms, ascending rows
//	})
//	...
//	err = sstindex.WriteGroup(ctx, d, tokens) // tokens[i] = token of row i
//
// Rebuilds after schema changes rescan existing segments through a
// Builder, which buffers terms in any order and cuts index segments under
// memory pressure. One resource.Limiter is shared by all concurrent
// builds, and an optional resource.Controller bounds build slots and IO:
//
//	b, err := sstindex.NewBuilder(ctx, d, "city_idx", sstindex.Literal, pkMap, limiter)
//	for ... {
//	    err = b.Add(term, rowID)
//	}
//	err = b.Complete() // or b.Abort()
//
// Completion markers are written last on every path. A crash mid-build
// leaves no marker, so a half-written index is never mistaken for a
// complete one; failed builds delete their partial components.
//
// # Searching
//
// Open loads every component of the named columns, validates framing and
// markers, and serves predicates:
//
//	ix, err := sstindex.Open(ctx, d, []sstindex.ColumnSpec{
//	    {Name: "age_idx", Kind: sstindex.Numeric},
//	    {Name: "city_idx", Kind: sstindex.Literal},
//	})
//	defer ix.Close()
//
//	qctx := query.NewContext()
//	it, err := ix.Search(ctx, []query.Predicate{
//	    {Column: "age_idx", Op: query.Range, Lower: lo, Upper: hi, UpperInclusive: true},
//	    {Column: "city_idx", Op: query.Eq, Lower: []byte("berlin")},
//	}, qctx)
//	defer it.Close()
//	for it.HasNext() {
//	    token := it.Next()
//	    ...
//	}
//
// Compound searches intersect the per-column streams, scanning only the
// most selective clauses up to the intersection limit; the executor
// re-checks rows against the full predicate downstream. Every search
// records its work in query.Context counters, logged at Debug when the
// stream closes.
//
// # Corruption and errors
//
// Every framed component carries a header with magic and version and a
// footer with a checksum. Open and Validate check structure always and
// whole-file checksums with WithVerifyChecksum; any mismatch is reported
// as ErrCorrupted with the offending component and file, and the index
// must be rebuilt rather than served. Errors are classified with
// errors.Is against the package sentinels.
package sstindex
