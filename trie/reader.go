package trie

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/keys"
)

// NotFound is returned by Lookup for absent terms. Absence is a legitimate
// outcome, not an error.
const NotFound int64 = -1

var ErrTooShort = errors.New("terms region too short")

// rootFooterSize is the fixed-width trailer Finish appends: the root offset.
const rootFooterSize = 8

type node struct {
	payload    int64
	hasPayload bool
	labels     []byte
	childOffs  []int64
}

// Reader serves term lookups over one finished dictionary. data is a view
// into the mapped component file; the Reader does not own it.
type Reader struct {
	data []byte
	root int64

	nodes int64
}

// NodesVisited reports how many trie nodes this reader decoded so far.
// Readers are opened per query, so the count is per query.
func (r *Reader) NodesVisited() int64 { return r.nodes }

// OpenReader locates the root through the footer of the terms region
// [off, off+length).
func OpenReader(data []byte, off, length int64) (*Reader, error) {
	if length < rootFooterSize {
		return nil, ErrTooShort
	}
	in := diskio.NewInputAt(data, off+length-rootFooterSize)
	root := int64(in.Uint64())
	if err := in.Err(); err != nil {
		return nil, err
	}
	if root < off || root >= off+length-rootFooterSize {
		return nil, fmt.Errorf("invalid terms root: %d", root)
	}
	return &Reader{data: data, root: root}, nil
}

func (r *Reader) readNode(off int64) (node, error) {
	r.nodes++
	in := diskio.NewInputAt(r.data, off)
	flags := in.Byte()

	var n node
	if flags&flagPayload != 0 {
		n.payload = int64(in.Uvarint())
		n.hasPayload = true
	}
	count := int(in.Uvarint())
	n.labels = in.Read(int64(count))
	if count > 0 {
		n.childOffs = make([]int64, count)
		for i := range n.childOffs {
			n.childOffs[i] = off - int64(in.Uvarint())
		}
	}
	if err := in.Err(); err != nil {
		return node{}, fmt.Errorf("failed to read trie node at %d: %w", off, err)
	}
	if flags&^flagPayload != 0 {
		return node{}, fmt.Errorf("invalid trie node flags: %#x", flags)
	}
	for _, childOff := range n.childOffs {
		if childOff < 0 || childOff >= off {
			return node{}, fmt.Errorf("invalid trie child offset: %d", childOff)
		}
	}
	return n, nil
}

// Lookup resolves one term in a single root-to-leaf descent. Absent terms
// yield NotFound.
func (r *Reader) Lookup(term []byte) (int64, error) {
	off := r.root
	for depth := 0; ; depth++ {
		n, err := r.readNode(off)
		if err != nil {
			return 0, err
		}
		if depth == len(term) {
			if n.hasPayload {
				return n.payload, nil
			}
			return NotFound, nil
		}
		i := sort.Search(len(n.labels), func(i int) bool { return n.labels[i] >= term[depth] })
		if i == len(n.labels) || n.labels[i] != term[depth] {
			return NotFound, nil
		}
		off = n.childOffs[i]
	}
}

// Range iterates terms within [lower, upper] in ascending order. Nil bounds
// are unbounded.
func (r *Reader) Range(lower, upper []byte, lowerInclusive, upperInclusive bool) *Iterator {
	it := &Iterator{
		r:        r,
		lower:    lower,
		upper:    upper,
		lowerInc: lowerInclusive,
		upperInc: upperInclusive,
	}
	n, err := r.readNode(r.root)
	if err != nil {
		it.err = err
		return it
	}
	it.stack = append(it.stack, frame{node: n})
	return it
}

// Prefix iterates every term starting with prefix, in ascending order.
func (r *Reader) Prefix(prefix []byte) *Iterator {
	if len(prefix) == 0 {
		return r.Range(nil, nil, false, false)
	}
	return r.Range(prefix, keys.PrefixEnd(prefix), true, false)
}

type frame struct {
	node
	next    int
	emitted bool
}

// Iterator streams (term, postingRoot) pairs. The term slice is reused
// between calls; callers keeping it must copy.
type Iterator struct {
	r *Reader

	lower, upper       []byte
	lowerInc, upperInc bool

	stack  []frame
	prefix []byte
	err    error
}

func (it *Iterator) Err() error { return it.err }

// Next returns the next matching term. ok is false when the iteration is
// done or failed; check Err to tell the two apart.
func (it *Iterator) Next() (term []byte, postingRoot int64, ok bool) {
	if it.err != nil {
		return nil, 0, false
	}
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]

		if !f.emitted {
			f.emitted = true
			if f.hasPayload && it.inRange(it.prefix) {
				return it.prefix, f.payload, true
			}
		}

		pushed := false
		for f.next < len(f.labels) {
			i := f.next
			f.next++
			child := append(it.prefix, f.labels[i])
			if it.aboveUpper(child) {
				// labels ascend, nothing further can qualify
				f.next = len(f.labels)
				break
			}
			if it.belowSubtree(child) {
				continue
			}
			n, err := it.r.readNode(f.childOffs[i])
			if err != nil {
				it.err = err
				return nil, 0, false
			}
			it.prefix = child
			it.stack = append(it.stack, frame{node: n})
			pushed = true
			break
		}
		if pushed {
			continue
		}
		it.stack = it.stack[:len(it.stack)-1]
		if len(it.prefix) > 0 {
			it.prefix = it.prefix[:len(it.prefix)-1]
		}
	}
	return nil, 0, false
}

// belowSubtree reports whether every term under prefix q sorts below the
// lower bound: q is smaller than the bound and not one of its prefixes.
func (it *Iterator) belowSubtree(q []byte) bool {
	if it.lower == nil {
		return false
	}
	return bytes.Compare(q, it.lower) < 0 && !bytes.HasPrefix(it.lower, q)
}

// aboveUpper reports whether q, the smallest term of its subtree, already
// exceeds the upper bound.
func (it *Iterator) aboveUpper(q []byte) bool {
	if it.upper == nil {
		return false
	}
	return bytes.Compare(q, it.upper) > 0
}

func (it *Iterator) inRange(term []byte) bool {
	if it.lower != nil {
		c := bytes.Compare(term, it.lower)
		if c < 0 || (c == 0 && !it.lowerInc) {
			return false
		}
	}
	if it.upper != nil {
		c := bytes.Compare(term, it.upper)
		if c > 0 || (c == 0 && !it.upperInc) {
			return false
		}
	}
	return true
}
