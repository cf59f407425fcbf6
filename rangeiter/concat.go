package rangeiter

import "container/heap"

// ConcatBuilder accumulates the per-segment streams of one predicate. Build
// hands ownership of every added child to the returned iterator; if the
// caller abandons the build instead, CloseChildren releases them.
type ConcatBuilder struct {
	children []Iterator
}

func NewConcatBuilder() *ConcatBuilder {
	return &ConcatBuilder{}
}

func (b *ConcatBuilder) Add(it Iterator) *ConcatBuilder {
	b.children = append(b.children, it)
	return b
}

func (b *ConcatBuilder) Len() int { return len(b.children) }

// CloseChildren releases every added child. For abandoned builds only.
func (b *ConcatBuilder) CloseChildren() error {
	err := closeAll(b.children)
	b.children = nil
	return err
}

// Build returns the concatenation of the added children. Children known
// empty from their statistics are closed immediately.
func (b *ConcatBuilder) Build() Iterator {
	live := make([]Iterator, 0, len(b.children))
	for _, ch := range b.children {
		if ch.Count() == 0 {
			ch.Close()
			continue
		}
		live = append(live, ch)
	}
	b.children = nil

	switch len(live) {
	case 0:
		return Empty()
	case 1:
		return live[0]
	}

	c := &concat{children: live}
	for i, ch := range live {
		if i == 0 || ch.Minimum() < c.min {
			c.min = ch.Minimum()
		}
		if i == 0 || ch.Maximum() > c.max {
			c.max = ch.Maximum()
		}
		c.count += ch.Count()
	}
	c.compute = c.computeNext
	c.skip = c.skipAll
	return c
}

// Concat returns the concatenation of children. Duplicates across children
// are preserved.
func Concat(children ...Iterator) Iterator {
	b := NewConcatBuilder()
	for _, ch := range children {
		b.Add(ch)
	}
	return b.Build()
}

// concat merges children through a min-heap keyed on each child's current
// token. Children stay in the heap only while they have a current element.
type concat struct {
	base

	children []Iterator // entries nil once closed early
	h        iterHeap
	primed   bool
	closed   bool

	pendingErr error
}

func (c *concat) prime() error {
	c.primed = true
	c.h = make(iterHeap, 0, len(c.children))
	for _, ch := range c.children {
		if ch == nil {
			continue
		}
		if ch.HasNext() {
			c.h = append(c.h, ch)
		} else if err := ch.Err(); err != nil {
			return err
		}
	}
	heap.Init(&c.h)
	return nil
}

func (c *concat) computeNext() (Token, bool, error) {
	if c.pendingErr != nil {
		return 0, false, c.pendingErr
	}
	if !c.primed {
		if err := c.prime(); err != nil {
			return 0, false, err
		}
	}
	if c.h.Len() == 0 {
		return 0, false, nil
	}

	// Pop before advancing: a heap member's key must never change in place.
	top := heap.Pop(&c.h).(Iterator)
	v := top.Next()
	if top.HasNext() {
		heap.Push(&c.h, top)
	} else if err := top.Err(); err != nil {
		// v was read before the failure; emit it and fail on the next pull.
		c.pendingErr = err
	}
	return v, true, nil
}

// skipAll drops children whose range ends below target, forwards the rest,
// and reorders the heap.
func (c *concat) skipAll(target Token) {
	if !c.primed {
		if err := c.prime(); err != nil {
			c.pendingErr = err
			return
		}
	}

	kept := c.h[:0]
	for _, ch := range c.h {
		if ch.Maximum() < target {
			c.closeChild(ch)
			continue
		}
		ch.SkipTo(target)
		if ch.HasNext() {
			kept = append(kept, ch)
		} else if err := ch.Err(); err != nil {
			c.pendingErr = err
		}
	}
	c.h = kept
	heap.Init(&c.h)
}

func (c *concat) closeChild(ch Iterator) {
	for i, have := range c.children {
		if have == ch {
			ch.Close()
			c.children[i] = nil
			return
		}
	}
}

func (c *concat) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.exhaust()
	return closeAll(c.children)
}

type iterHeap []Iterator

func (h iterHeap) Len() int           { return len(h) }
func (h iterHeap) Less(i, j int) bool { return h[i].Peek() < h[j].Peek() }
func (h iterHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *iterHeap) Push(x any) { *h = append(*h, x.(Iterator)) }

func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
