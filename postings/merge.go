package postings

import "container/heap"

// Merge returns a PostingList over the deduplicated union of the inputs,
// which is how one predicate's row ids are combined across multiple matching
// terms. Size is the sum of the input sizes, an upper bound. The merge owns
// the inputs and closes every one of them exactly once.
func Merge(lists []PostingList) PostingList {
	switch len(lists) {
	case 0:
		return NewSlice(nil)
	case 1:
		return lists[0]
	}

	m := &mergeList{
		children: make([]*Peekable, 0, len(lists)),
		last:     -1,
	}
	for _, pl := range lists {
		m.size += pl.Size()
		m.children = append(m.children, NewPeekable(pl))
	}
	return m
}

type mergeList struct {
	children []*Peekable
	h        mergeHeap
	size     int64
	last     int64
	primed   bool
	closed   bool
}

func (m *mergeList) Size() int64 { return m.size }

// prime loads every child's head and builds the heap. Children already
// exhausted are left out.
func (m *mergeList) prime() error {
	m.primed = true
	m.h = make(mergeHeap, 0, len(m.children))
	for _, c := range m.children {
		head, err := c.Peek()
		if err != nil {
			return err
		}
		if head != EndOfList {
			m.h = append(m.h, c)
		}
	}
	heap.Init(&m.h)
	return nil
}

func (m *mergeList) Next() (int64, error) {
	if !m.primed {
		if err := m.prime(); err != nil {
			return EndOfList, err
		}
	}

	for m.h.Len() > 0 {
		// Pop before advancing; a heap member's key must never change in
		// place.
		c := heap.Pop(&m.h).(*Peekable)
		row, err := c.Next()
		if err != nil {
			return EndOfList, err
		}
		head, err := c.Peek()
		if err != nil {
			return EndOfList, err
		}
		if head != EndOfList {
			heap.Push(&m.h, c)
		}
		if row != m.last {
			m.last = row
			return row, nil
		}
	}
	return EndOfList, nil
}

func (m *mergeList) Advance(target int64) (int64, error) {
	if !m.primed {
		if err := m.prime(); err != nil {
			return EndOfList, err
		}
	}

	// Reposition every child, then rebuild the heap ordering.
	kept := m.h[:0]
	for _, c := range m.h {
		if err := c.AdvanceHead(target); err != nil {
			return EndOfList, err
		}
		if head, err := c.Peek(); err != nil {
			return EndOfList, err
		} else if head != EndOfList {
			kept = append(kept, c)
		}
	}
	m.h = kept
	heap.Init(&m.h)
	return m.Next()
}

// Close closes every child, keeping the first error.
func (m *mergeList) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var firstErr error
	for _, c := range m.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type mergeHeap []*Peekable

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	// Heads are always loaded while a child is a heap member.
	a, _ := h[i].Peek()
	b, _ := h[j].Peek()
	return a < b
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*Peekable)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}
