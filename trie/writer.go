package trie

import (
	"bytes"
	"errors"

	"github.com/hupe1980/sstindex/internal/diskio"
)

var (
	ErrEmptyTerm     = errors.New("empty term")
	ErrOutOfOrder    = errors.New("terms out of order")
	ErrDuplicateTerm = errors.New("duplicate term")
	ErrNoTerms       = errors.New("no terms added")
	ErrFinished      = errors.New("writer already finished")
)

const (
	flagPayload = 1 << 0
)

// pending is an uncommitted node on the current term's path.
type pending struct {
	label      byte
	payload    int64
	hasPayload bool

	childLabels []byte
	childOffs   []int64
}

// Writer builds the dictionary incrementally. Node bytes go to out as paths
// are committed; nothing is queryable until Finish.
type Writer struct {
	out      *diskio.Output
	frontier []pending
	lastTerm []byte
	count    int64
	finished bool
}

func NewWriter(out *diskio.Output) *Writer {
	return &Writer{frontier: make([]pending, 1), out: out}
}

// Count returns the number of terms added so far.
func (w *Writer) Count() int64 { return w.count }

// Add appends one term with its posting-list root. Terms must be strictly
// ascending.
func (w *Writer) Add(term []byte, postingRoot int64) error {
	if w.finished {
		return ErrFinished
	}
	if len(term) == 0 {
		return ErrEmptyTerm
	}
	if w.count > 0 {
		switch bytes.Compare(term, w.lastTerm) {
		case 0:
			return ErrDuplicateTerm
		case -1:
			return ErrOutOfOrder
		}
	}

	shared := sharedPrefix(term, w.lastTerm)
	if err := w.commitBelow(shared); err != nil {
		return err
	}
	for _, label := range term[shared:] {
		w.frontier = append(w.frontier, pending{label: label})
	}

	tip := &w.frontier[len(w.frontier)-1]
	tip.payload = postingRoot
	tip.hasPayload = true

	w.lastTerm = append(w.lastTerm[:0], term...)
	w.count++
	return nil
}

// Finish commits the remaining path including the root, then writes the
// footer holding the root's offset. The returned offset is the same one the
// footer records.
func (w *Writer) Finish() (int64, error) {
	if w.finished {
		return 0, ErrFinished
	}
	w.finished = true
	if w.count == 0 {
		return 0, ErrNoTerms
	}

	if err := w.commitBelow(0); err != nil {
		return 0, err
	}
	root, err := w.commit(&w.frontier[0])
	if err != nil {
		return 0, err
	}
	if err := w.out.WriteUint64(uint64(root)); err != nil {
		return 0, err
	}
	return root, nil
}

// commitBelow commits every frontier node deeper than depth, child-first,
// registering each committed node in its parent.
func (w *Writer) commitBelow(depth int) error {
	for len(w.frontier)-1 > depth {
		n := &w.frontier[len(w.frontier)-1]
		off, err := w.commit(n)
		if err != nil {
			return err
		}
		parent := &w.frontier[len(w.frontier)-2]
		parent.childLabels = append(parent.childLabels, n.label)
		parent.childOffs = append(parent.childOffs, off)
		w.frontier = w.frontier[:len(w.frontier)-1]
	}
	return nil
}

// commit writes one node and returns its offset. Child offsets are encoded
// as backward deltas from the node's own offset; children are always
// committed first, so the deltas are positive.
func (w *Writer) commit(n *pending) (int64, error) {
	off := w.out.Position()

	var flags byte
	if n.hasPayload {
		flags |= flagPayload
	}
	if err := w.out.WriteByte(flags); err != nil {
		return 0, err
	}
	if n.hasPayload {
		if err := w.out.WriteUvarint(uint64(n.payload)); err != nil {
			return 0, err
		}
	}
	if err := w.out.WriteUvarint(uint64(len(n.childLabels))); err != nil {
		return 0, err
	}
	if _, err := w.out.Write(n.childLabels); err != nil {
		return 0, err
	}
	for _, childOff := range n.childOffs {
		if err := w.out.WriteUvarint(uint64(off - childOff)); err != nil {
			return 0, err
		}
	}
	return off, nil
}

func sharedPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
