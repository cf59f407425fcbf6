// Package rangeiter implements the sorted token-stream algebra queries are
// composed from.
//
// An [Iterator] is a lazy, single-pass, forward-seekable stream of tokens in
// non-decreasing order, carrying min/max/count statistics. Two combinators
// build compound results:
//
//   - [Concat] merges the per-segment streams of one predicate. Duplicates
//     across children are preserved; deduplication happens downstream during
//     row materialization.
//   - [IntersectBuilder] combines per-column streams of a compound
//     predicate. Statistics prove many intersections empty before any I/O,
//     and a fan-in limit bounds how many children are actually scanned.
//
// Combinators take exclusive ownership of their children: every child,
// including ones pruned before ever being advanced, is closed exactly once
// on every exit path.
package rangeiter
