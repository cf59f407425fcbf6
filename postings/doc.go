// Package postings implements sorted row-id posting lists and their on-disk
// codec.
//
// A posting list is an ascending sequence of segment-local row ids produced
// by one index term or tree leaf. On disk a list is a run of delta-encoded,
// optionally compressed blocks followed by a skip table; the skip table's
// file position is the list's root, the offset stored by the trie and tree
// codecs. Advancing seeks block-at-a-time through the skip table instead of
// scanning.
//
// Exhaustion is signalled by the EndOfList sentinel rather than an error,
// matching how absence is a legitimate, common condition throughout the
// index.
package postings
