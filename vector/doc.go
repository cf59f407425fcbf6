// Package vector bridges a similarity graph's dense internal ordinals to
// external row ids.
//
// The graph itself is an external collaborator reached through the Graph
// interface; this package owns the on-disk ordinal map (ordinal to row ids,
// row id to ordinal, tombstoned ordinals) and the batch searcher that turns
// approximate matches into ascending row-id streams, re-searching with a
// doubled limit when a consumer outruns the current batch.
package vector
