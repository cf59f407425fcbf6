// Package trie implements the literal term dictionary: an ordered prefix
// trie mapping byte-comparable terms to posting-list roots.
//
// The writer accepts terms in strictly ascending order and keeps only the
// current term's path uncommitted. When the next term diverges, the nodes
// below the shared prefix are committed child-first, so every parent knows
// its children's file offsets and the encoding needs no forward references.
// Finish commits the root last and appends a fixed-width footer holding the
// root offset, which is how the reader finds its way in.
//
// Lookups resolve a term in one root-to-leaf descent. Bounded and prefix
// queries descend to the boundary and then walk ordered siblings with an
// explicit stack, yielding terms in ascending order.
package trie
