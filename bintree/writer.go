package bintree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/bits"
	"sort"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/postings"
)

// DefaultLeafSize is the number of rows folded into one leaf block.
const DefaultLeafSize = 512

var (
	ErrValueWidth = errors.New("value width mismatch")
	ErrOutOfOrder = errors.New("values out of order")
	ErrNoRows     = errors.New("no rows added")
)

type leafMeta struct {
	count       int
	valuesOff   int64
	postingRoot int64
	minValue    []byte
}

// Writer builds one tree per segment. Rows arrive in ascending value order;
// full leaves are flushed to the leaf output as they fill, and Finish packs
// the internal nodes plus the leaf directory into the tree output.
type Writer struct {
	leafOut  *diskio.Output
	width    int
	leafSize int
	codec    compress.Type

	leafValues []byte
	leafRows   []int64
	leaves     []leafMeta

	lastValue []byte
	minValue  []byte
	maxValue  []byte
	numRows   int64
}

// NewWriter returns a writer for values of exactly width bytes. Leaf
// payloads go to leafOut as rows are added.
func NewWriter(leafOut *diskio.Output, width, leafSize int, codec compress.Type) *Writer {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}
	return &Writer{
		leafOut:    leafOut,
		width:      width,
		leafSize:   leafSize,
		codec:      codec,
		leafValues: make([]byte, 0, leafSize*width),
		leafRows:   make([]int64, 0, leafSize),
	}
}

// Add appends one row. Values must be non-decreasing across calls.
func (w *Writer) Add(value []byte, rowID int64) error {
	if len(value) != w.width {
		return ErrValueWidth
	}
	if w.lastValue != nil && bytes.Compare(value, w.lastValue) < 0 {
		return ErrOutOfOrder
	}

	w.leafValues = append(w.leafValues, value...)
	w.leafRows = append(w.leafRows, rowID)
	w.lastValue = append(w.lastValue[:0], value...)
	if w.minValue == nil {
		w.minValue = bytes.Clone(value)
	}
	w.maxValue = append(w.maxValue[:0], value...)
	w.numRows++

	if len(w.leafRows) == w.leafSize {
		return w.flushLeaf()
	}
	return nil
}

func (w *Writer) NumRows() int64 { return w.numRows }

func (w *Writer) flushLeaf() error {
	n := len(w.leafRows)
	min := bytes.Clone(w.leafValues[:w.width])

	// Reorder to ascending row id, values in step, so the leaf's posting
	// list and value block line up.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return w.leafRows[idx[i]] < w.leafRows[idx[j]] })

	rows := make([]int64, n)
	vals := make([]byte, n*w.width)
	for out, in := range idx {
		rows[out] = w.leafRows[in]
		copy(vals[out*w.width:], w.leafValues[in*w.width:(in+1)*w.width])
	}

	valuesOff := w.leafOut.Position()
	if _, err := w.leafOut.Write(vals); err != nil {
		return err
	}

	pw := postings.NewWriter(w.leafOut, 0, w.codec)
	for _, r := range rows {
		if err := pw.Add(r); err != nil {
			return err
		}
	}
	root, err := pw.Finish()
	if err != nil {
		return err
	}

	w.leaves = append(w.leaves, leafMeta{
		count:       n,
		valuesOff:   valuesOff,
		postingRoot: root,
		minValue:    min,
	})
	w.leafValues = w.leafValues[:0]
	w.leafRows = w.leafRows[:0]
	return nil
}

// Result reports where the finished tree landed and its bounds.
type Result struct {
	Root      int64
	NumRows   int64
	NumLeaves int
	MinValue  []byte
	MaxValue  []byte
}

// Finish flushes the tail leaf and writes the tree meta, the packed internal
// nodes and the leaf directory to treeOut. Result.Root is the offset the
// reader opens at.
func (w *Writer) Finish(treeOut *diskio.Output) (*Result, error) {
	if len(w.leafRows) > 0 {
		if err := w.flushLeaf(); err != nil {
			return nil, err
		}
	}
	if len(w.leaves) == 0 {
		return nil, ErrNoRows
	}

	tree := w.pack(0, len(w.leaves))

	root := treeOut.Position()
	if err := treeOut.WriteUvarint(uint64(w.width)); err != nil {
		return nil, err
	}
	if err := treeOut.WriteUvarint(uint64(len(w.leaves))); err != nil {
		return nil, err
	}
	if err := treeOut.WriteUvarint(uint64(w.numRows)); err != nil {
		return nil, err
	}
	if _, err := treeOut.Write(w.minValue); err != nil {
		return nil, err
	}
	if _, err := treeOut.Write(w.maxValue); err != nil {
		return nil, err
	}
	if err := treeOut.WriteUvarint(uint64(len(tree))); err != nil {
		return nil, err
	}
	if _, err := treeOut.Write(tree); err != nil {
		return nil, err
	}

	var prevValues, prevRoot int64
	for _, lf := range w.leaves {
		if err := treeOut.WriteUvarint(uint64(lf.count)); err != nil {
			return nil, err
		}
		if err := treeOut.WriteUvarint(uint64(lf.valuesOff - prevValues)); err != nil {
			return nil, err
		}
		if err := treeOut.WriteUvarint(uint64(lf.postingRoot - prevRoot)); err != nil {
			return nil, err
		}
		prevValues, prevRoot = lf.valuesOff, lf.postingRoot
	}

	return &Result{
		Root:      root,
		NumRows:   w.numRows,
		NumLeaves: len(w.leaves),
		MinValue:  w.minValue,
		MaxValue:  w.maxValue,
	}, nil
}

// pack encodes the internal nodes of the subtree covering leaves [lo, hi),
// depth-first. Leaves contribute no bytes. A node is [vint splitLen][split]
// [vint leftLen], with leftLen omitted when the left child is a leaf, since
// the right child then starts straight after the node.
func (w *Writer) pack(lo, hi int) []byte {
	if hi-lo <= 1 {
		return nil
	}
	leftLeaves := numLeftLeaves(hi - lo)
	split := w.leaves[lo+leftLeaves].minValue
	left := w.pack(lo, lo+leftLeaves)
	right := w.pack(lo+leftLeaves, hi)

	buf := make([]byte, 0, 2*binary.MaxVarintLen64+len(split)+len(left)+len(right))
	buf = binary.AppendUvarint(buf, uint64(len(split)))
	buf = append(buf, split...)
	if leftLeaves > 1 {
		buf = binary.AppendUvarint(buf, uint64(len(left)))
		buf = append(buf, left...)
	}
	return append(buf, right...)
}

// numLeftLeaves splits n leaves between the children of an internal node:
// the last complete level is filled half and half, and leaves spilling to a
// new lowest level go left first. This is exactly the shape of the implicit
// 1-based numbering the reader navigates.
func numLeftLeaves(n int) int {
	fullLevel := 1 << (bits.Len(uint(n)) - 1)
	numLeft := fullLevel / 2
	unbalanced := n - fullLevel
	if unbalanced < numLeft {
		return numLeft + unbalanced
	}
	return numLeft * 2
}
