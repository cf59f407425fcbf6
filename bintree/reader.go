package bintree

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/postings"
)

// Range is a value interval over encoded bytes. A nil bound is unbounded.
type Range struct {
	Lower          []byte
	Upper          []byte
	LowerInclusive bool
	UpperInclusive bool
}

func (q Range) belowLower(v []byte) bool {
	if q.Lower == nil {
		return false
	}
	c := bytes.Compare(v, q.Lower)
	return c < 0 || (c == 0 && !q.LowerInclusive)
}

func (q Range) aboveUpper(v []byte) bool {
	if q.Upper == nil {
		return false
	}
	c := bytes.Compare(v, q.Upper)
	return c > 0 || (c == 0 && !q.UpperInclusive)
}

// Matches reports whether one encoded value satisfies the range.
func (q Range) Matches(v []byte) bool {
	return !q.belowLower(v) && !q.aboveUpper(v)
}

type relation uint8

const (
	outside relation = iota
	crosses
	inside
)

// compareCell classifies the value interval [cellMin, cellMax] against the
// range. Cell bounds are inclusive on both sides.
func (q Range) compareCell(cellMin, cellMax []byte) relation {
	if q.belowLower(cellMax) || q.aboveUpper(cellMin) {
		return outside
	}
	if !q.belowLower(cellMin) && !q.aboveUpper(cellMax) {
		return inside
	}
	return crosses
}

type leafRef struct {
	count       int
	valuesOff   int64
	postingRoot int64
}

// Reader serves range queries over one finished tree. Both byte slices are
// views into mapped component files; the Reader owns neither.
type Reader struct {
	treeData []byte
	leafData []byte
	codec    compress.Type

	width     int
	numLeaves int
	numRows   int64
	minValue  []byte
	maxValue  []byte

	treeStart int64
	dir       []leafRef

	nodes int64
}

// OpenReader parses the tree meta and leaf directory written at root.
func OpenReader(treeData []byte, root int64, leafData []byte, codec compress.Type) (*Reader, error) {
	in := diskio.NewInputAt(treeData, root)
	width := int(in.Uvarint())
	numLeaves := int(in.Uvarint())
	numRows := int64(in.Uvarint())
	minValue := in.Read(int64(width))
	maxValue := in.Read(int64(width))
	treeLen := int64(in.Uvarint())
	treeStart := in.Pos()
	in.Skip(treeLen)
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tree meta: %w", err)
	}
	if width <= 0 || numLeaves <= 0 {
		return nil, fmt.Errorf("invalid tree meta: width %d, leaves %d", width, numLeaves)
	}

	dir := make([]leafRef, numLeaves)
	var valuesOff, postingRoot int64
	for i := range dir {
		count := int(in.Uvarint())
		valuesOff += int64(in.Uvarint())
		postingRoot += int64(in.Uvarint())
		if in.Err() == nil {
			if end := valuesOff + int64(count*width); count <= 0 || end > int64(len(leafData)) || postingRoot >= int64(len(leafData)) {
				return nil, fmt.Errorf("leaf %d out of bounds", i)
			}
		}
		dir[i] = leafRef{count: count, valuesOff: valuesOff, postingRoot: postingRoot}
	}
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaf directory: %w", err)
	}

	return &Reader{
		treeData:  treeData,
		leafData:  leafData,
		codec:     codec,
		width:     width,
		numLeaves: numLeaves,
		numRows:   numRows,
		minValue:  minValue,
		maxValue:  maxValue,
		treeStart: treeStart,
		dir:       dir,
	}, nil
}

func (r *Reader) Width() int       { return r.width }
func (r *Reader) NumRows() int64   { return r.numRows }
func (r *Reader) NumLeaves() int   { return r.numLeaves }
func (r *Reader) MinValue() []byte { return r.minValue }
func (r *Reader) MaxValue() []byte { return r.maxValue }

// NodesVisited reports how many tree nodes the guided walks on this reader
// examined so far. Readers are opened per query, so the count is per query.
func (r *Reader) NodesVisited() int64 { return r.nodes }

// Search returns an ascending posting stream over the rows whose value falls
// inside q. The caller owns the returned list and must close it.
func (r *Reader) Search(q Range) (postings.PostingList, error) {
	if q.compareCell(r.minValue, r.maxValue) == outside {
		return postings.NewSlice(nil), nil
	}

	t, err := r.newTraversal()
	if err != nil {
		return nil, err
	}

	var lists []postings.PostingList
	if err := r.collect(t, q, r.minValue, r.maxValue, &lists); err != nil {
		for _, pl := range lists {
			pl.Close()
		}
		return nil, err
	}

	switch len(lists) {
	case 0:
		return postings.NewSlice(nil), nil
	case 1:
		return lists[0], nil
	default:
		return postings.Merge(lists), nil
	}
}

// collect descends into subtrees whose value interval can overlap q. Cells
// fully inside emit whole leaf postings, crossing leaves filter row by row,
// everything else is skipped.
func (r *Reader) collect(t *traversal, q Range, cellMin, cellMax []byte, lists *[]postings.PostingList) error {
	r.nodes++
	switch q.compareCell(cellMin, cellMax) {
	case outside:
		return nil
	case inside:
		lo, hi := t.leafSpan()
		for ord := lo; ord < hi; ord++ {
			pl, err := r.leafPostings(ord)
			if err != nil {
				return err
			}
			*lists = append(*lists, pl)
		}
		return nil
	}

	if t.isLeaf() {
		pl, err := r.filterLeaf(t.leafOrdinal(), q)
		if err != nil {
			return err
		}
		if pl != nil {
			*lists = append(*lists, pl)
		}
		return nil
	}

	split := t.split()
	if err := t.pushLeft(); err != nil {
		return err
	}
	if err := r.collect(t, q, cellMin, split, lists); err != nil {
		return err
	}
	t.pop()
	if err := t.pushRight(); err != nil {
		return err
	}
	if err := r.collect(t, q, split, cellMax, lists); err != nil {
		return err
	}
	t.pop()
	return nil
}

func (r *Reader) leafPostings(ord int) (postings.PostingList, error) {
	pl, err := postings.OpenReader(r.leafData, r.dir[ord].postingRoot, r.codec)
	if err != nil {
		return nil, fmt.Errorf("failed to open leaf %d postings: %w", ord, err)
	}
	return pl, nil
}

// filterLeaf scans one crossing leaf, keeping rows whose value matches. Row
// ids and values are stored in the same order, so the result stays
// ascending. Returns nil when nothing matches.
func (r *Reader) filterLeaf(ord int, q Range) (postings.PostingList, error) {
	e := r.dir[ord]
	values := r.leafData[e.valuesOff : e.valuesOff+int64(e.count*r.width)]

	pl, err := r.leafPostings(ord)
	if err != nil {
		return nil, err
	}
	defer pl.Close()

	var rows []int64
	for i := 0; i < e.count; i++ {
		row, err := pl.Next()
		if err != nil {
			return nil, err
		}
		if row == postings.EndOfList {
			return nil, fmt.Errorf("leaf %d postings shorter than %d", ord, e.count)
		}
		if q.Matches(values[i*r.width : (i+1)*r.width]) {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return postings.NewSlice(rows), nil
}

// Leaf exposes one leaf block during in-order traversal.
type Leaf struct {
	r   *Reader
	ord int
}

func (l Leaf) Ordinal() int { return l.ord }
func (l Leaf) Count() int   { return l.r.dir[l.ord].count }

// Value returns the encoded value of the i-th row of the leaf, in row-id
// order. The slice aliases the mapped file.
func (l Leaf) Value(i int) []byte {
	e := l.r.dir[l.ord]
	off := e.valuesOff + int64(i*l.r.width)
	return l.r.leafData[off : off+int64(l.r.width)]
}

// Postings opens the leaf's row-id stream. The caller closes it.
func (l Leaf) Postings() (postings.PostingList, error) {
	return l.r.leafPostings(l.ord)
}

// VisitLeaves walks every leaf left to right, which is ascending value
// order.
func (r *Reader) VisitLeaves(visit func(Leaf) error) error {
	for ord := 0; ord < r.numLeaves; ord++ {
		if err := visit(Leaf{r: r, ord: ord}); err != nil {
			return err
		}
	}
	return nil
}

// traversal is the mutable descent state: one frame per level holding the
// node's split value and both child offsets, filled lazily on entry.
type traversal struct {
	r *Reader

	nodeID int
	level  int

	splits   [][]byte
	leftOff  []int64
	rightOff []int64
}

func (r *Reader) newTraversal() (*traversal, error) {
	depth := bits.Len(uint(r.numLeaves)) + 1
	t := &traversal{
		r:        r,
		nodeID:   1,
		splits:   make([][]byte, depth),
		leftOff:  make([]int64, depth),
		rightOff: make([]int64, depth),
	}
	if !t.isLeaf() {
		if err := t.enter(r.treeStart); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *traversal) isLeaf() bool { return t.nodeID >= t.r.numLeaves }

// enter reads the node block at off and fills the current level's frame.
func (t *traversal) enter(off int64) error {
	in := diskio.NewInputAt(t.r.treeData, off)
	split := in.Read(int64(in.Uvarint()))
	var leftLen int64
	if 2*t.nodeID < t.r.numLeaves { // left child is internal
		leftLen = int64(in.Uvarint())
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("failed to read tree node %d: %w", t.nodeID, err)
	}
	t.splits[t.level] = split
	t.leftOff[t.level] = in.Pos()
	t.rightOff[t.level] = in.Pos() + leftLen
	return nil
}

func (t *traversal) split() []byte { return t.splits[t.level] }

func (t *traversal) pushLeft() error {
	off := t.leftOff[t.level]
	t.nodeID *= 2
	t.level++
	if t.isLeaf() {
		return nil
	}
	return t.enter(off)
}

func (t *traversal) pushRight() error {
	off := t.rightOff[t.level]
	t.nodeID = t.nodeID*2 + 1
	t.level++
	if t.isLeaf() {
		return nil
	}
	return t.enter(off)
}

func (t *traversal) pop() {
	t.nodeID /= 2
	t.level--
}

// leafOrdinal maps the current leaf node to its left-to-right position: the
// deepest level holds the leftmost leaves, the remainder sit one level up.
func (t *traversal) leafOrdinal() int {
	n := t.r.numLeaves
	deepest := 1 << (bits.Len(uint(2*n-1)) - 1)
	if t.nodeID >= deepest {
		return t.nodeID - deepest
	}
	return t.nodeID - n + 2*n - deepest
}

// leafSpan returns the ordinal range [lo, hi) of the leaves under the
// current node, by node arithmetic alone.
func (t *traversal) leafSpan() (int, int) {
	n := t.r.numLeaves
	deepest := 1 << (bits.Len(uint(2*n-1)) - 1)
	ordOf := func(id int) int {
		if id >= deepest {
			return id - deepest
		}
		return id - n + 2*n - deepest
	}
	lo, hi := t.nodeID, t.nodeID
	for lo < n {
		lo *= 2
	}
	for hi < n {
		hi = hi*2 + 1
	}
	return ordOf(lo), ordOf(hi) + 1
}
