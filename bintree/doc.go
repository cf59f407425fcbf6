// Package bintree implements the numeric range index: a balanced binary
// range-partitioning tree over fixed-width, order-preserving encoded values.
//
// The writer consumes rows in ascending value order and folds them into
// fixed-capacity leaves. Each leaf stores its row ids as a posting list plus
// the parallel value bytes in row-id order, so a leaf fully inside a query
// range streams row ids directly while a leaf crossing the range boundary
// filters row by row. Internal nodes are packed depth-first; each node
// records its split value and, when the left child is itself internal, the
// byte length of that subtree, which lets the reader locate the right child
// without any backward seek.
//
// The reader navigates the implicit 1-based node numbering with one frame
// per level instead of recursion, and a range query descends only into
// subtrees whose value interval can overlap the query.
package bintree
